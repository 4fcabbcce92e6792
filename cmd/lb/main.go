package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/lb"
	"github.com/serverledge-faas/smartlambda/internal/logging"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/sirupsen/logrus"
)

func registerTerminationHandler(e *echo.Echo, cancel context.CancelFunc, reg *registration.Registry) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		logrus.Infof("Got %s signal. Terminating...", sig)
		cancel()

		ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := e.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
		if reg != nil {
			_ = reg.Deregister()
		}
		utils.CloseEtcdClient()
		os.Exit(0)
	}()
}

func main() {
	configFileName := ""
	if len(os.Args) > 1 {
		configFileName = os.Args[1]
	}
	config.ReadConfiguration(configFileName)
	logging.Init()
	log := logging.For("lb")

	region := config.GetString(config.REGISTRY_AREA, "ROME")
	ctx, cancel := context.WithCancel(context.Background())

	cli, err := utils.GetEtcdClient()
	if err != nil {
		log.Fatalf("Cannot connect to registry to retrieve targets: %v", err)
	}

	// the balancer is visible in its own area, apart from the nodes it serves
	self := registration.NewRegistration(registration.NodeRegistration{NodeID: node.NewIdentifier("lb/" + region)})
	reg, err := registration.Register(ctx, cli, self)
	if err != nil {
		log.Warnf("Could not register to Etcd: %v", err)
	}

	policy, err := lb.NewPolicy(config.GetString(config.LOAD_BALANCER_POLICY, lb.CONST_HASH_POLICY))
	if err != nil {
		log.Fatal(err)
	}
	lister := registration.NewLister(cli)
	proxy := lb.NewProxy(lister, region, policy)

	e := echo.New()
	registerTerminationHandler(e, cancel, reg)

	if err := lb.StartReverseProxy(ctx, e, proxy); err != nil {
		log.Fatal(err)
	}
}
