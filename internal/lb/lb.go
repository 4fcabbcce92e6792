// Package lb is a reverse proxy in front of the API nodes of an area. The
// nodes share their stores, so any of them can serve a request; invocations
// are spread by a routing policy.
package lb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/sirupsen/logrus"
)

const DefaultRefreshInterval = 10 * time.Second

// NodeLister returns the nodes registered in an area.
type NodeLister interface {
	Nodes(ctx context.Context, area string) ([]registration.NodeRegistration, error)
}

type Proxy struct {
	lister NodeLister
	area   string
	policy Policy
	client *http.Client

	targetsMutex sync.RWMutex
	targets      []registration.NodeRegistration
	next         atomic.Uint64

	log *logrus.Entry
}

func NewProxy(lister NodeLister, area string, policy Policy) *Proxy {
	tr := &http.Transport{
		MaxIdleConns:        2500,
		MaxIdleConnsPerHost: 2500,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     10 * time.Minute,
	}
	return &Proxy{
		lister: lister,
		area:   area,
		policy: policy,
		client: &http.Client{Transport: tr},
		log:    logrus.WithField("component", "lb"),
	}
}

// Refresh reloads the targets from the registry. On error the previous
// targets are kept.
func (p *Proxy) Refresh(ctx context.Context) error {
	newTargets, err := p.lister.Nodes(ctx, p.area)
	if err != nil {
		return fmt.Errorf("cannot update targets: %w", err)
	}

	p.targetsMutex.Lock()
	old := make(map[string]bool, len(p.targets))
	for _, t := range p.targets {
		old[t.Key] = true
	}
	for _, t := range newTargets {
		if !old[t.Key] {
			p.log.Infof("Adding new target: %s", t.APIUrl())
		}
		delete(old, t.Key)
	}
	for k := range old {
		p.log.Infof("Removing target: %s", k)
	}
	p.targets = newTargets
	p.targetsMutex.Unlock()

	p.policy.Update(newTargets)
	return nil
}

// Run refreshes the targets every interval until ctx is cancelled.
func (p *Proxy) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.log.Warn(err)
			}
		}
	}
}

func (p *Proxy) Targets() []registration.NodeRegistration {
	p.targetsMutex.RLock()
	defer p.targetsMutex.RUnlock()
	return append([]registration.NodeRegistration(nil), p.targets...)
}

func (p *Proxy) Routes(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.POST("/invoke/:fun", p.handleInvoke)
	e.Any("/*", p.handleOtherRequest)
}

func (p *Proxy) handleInvoke(c echo.Context) error {
	target, err := p.policy.Route(c.Param("fun"))
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, err.Error())
	}
	return p.forward(c, target)
}

// handleOtherRequest sends the remaining requests to the targets in turn.
func (p *Proxy) handleOtherRequest(c echo.Context) error {
	p.targetsMutex.RLock()
	if len(p.targets) == 0 {
		p.targetsMutex.RUnlock()
		return c.JSON(http.StatusServiceUnavailable, ErrNoTarget.Error())
	}
	target := p.targets[p.next.Add(1)%uint64(len(p.targets))]
	p.targetsMutex.RUnlock()
	return p.forward(c, target)
}

func (p *Proxy) forward(c echo.Context, target registration.NodeRegistration) error {
	in := c.Request()
	req, err := http.NewRequestWithContext(in.Context(), in.Method, target.APIUrl()+in.RequestURI, in.Body)
	if err != nil {
		return err
	}
	req.Header = in.Header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithField("target", target.Key).Warnf("Forwarding failed: %v", err)
		return c.JSON(http.StatusBadGateway, "target unreachable")
	}
	defer resp.Body.Close()

	res := c.Response()
	for key, values := range resp.Header {
		for _, value := range values {
			res.Header().Add(key, value)
		}
	}
	res.WriteHeader(resp.StatusCode)
	_, err = io.Copy(res.Writer, resp.Body)
	return err
}

// StartReverseProxy loads the targets, keeps them fresh and serves until
// the server is shut down.
func StartReverseProxy(ctx context.Context, e *echo.Echo, p *Proxy) error {
	if err := p.Refresh(ctx); err != nil {
		return err
	}
	p.log.Infof("Initializing with %d targets.", len(p.Targets()))
	go p.Run(ctx, config.GetDuration(config.LOAD_BALANCER_REFRESH_INTERVAL, DefaultRefreshInterval))

	e.HideBanner = true
	p.Routes(e)

	portNumber := config.GetInt(config.API_PORT, 1323)
	if err := e.Start(fmt.Sprintf(":%d", portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
