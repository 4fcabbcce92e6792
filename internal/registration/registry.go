// Package registration advertises the nodes of a deployment in etcd, so that
// the pool of API servers and schedulers sharing a store can be inspected.
package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const registryBaseDirectory = "registry"
const etcdLeaseTTL = 30

// Registry holds the registration of the local node.
type Registry struct {
	cli   *clientv3.Client
	lease clientv3.LeaseID
	self  NodeRegistration
	stop  context.CancelFunc
	log   *logrus.Entry
}

func (r *NodeRegistration) toEtcdKey() (key string) {
	return fmt.Sprintf("%s/%s/%s", registryBaseDirectory, r.Area, r.Key)
}

func areaEtcdKey(area string) string {
	return fmt.Sprintf("%s/%s/", registryBaseDirectory, area)
}

// NewRegistration describes the local node using the API settings. The
// address defaults to the outbound IP of the host.
func NewRegistration(id NodeRegistration) NodeRegistration {
	defaultAddressStr := "127.0.0.1"
	if address, err := utils.GetOutboundIp(); err == nil {
		defaultAddressStr = address.String()
	}
	if id.IPAddress == "" {
		id.IPAddress = config.GetString(config.API_IP, defaultAddressStr)
	}
	if id.APIPort == 0 {
		id.APIPort = config.GetInt(config.API_PORT, 1323)
	}
	return id
}

// Register stores self in etcd under a lease kept alive until Deregister.
func Register(ctx context.Context, cli *clientv3.Client, self NodeRegistration) (*Registry, error) {
	if cli == nil {
		return nil, UnavailableClientErr
	}
	r := &Registry{cli: cli, self: self, log: logrus.WithField("component", "registry")}

	grantCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := cli.Grant(grantCtx, etcdLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("could not grant lease: %w", err)
	}
	r.lease = resp.ID

	payload, err := json.Marshal(self)
	if err != nil {
		return nil, err
	}
	etcdKey := self.toEtcdKey()
	if _, err := cli.Put(grantCtx, etcdKey, string(payload), clientv3.WithLease(r.lease)); err != nil {
		return nil, fmt.Errorf("%w: %v", IdRegistrationErr, err)
	}

	keepAliveCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	r.stop = stop
	ch, err := cli.KeepAlive(keepAliveCtx, r.lease)
	if err != nil {
		stop()
		return nil, fmt.Errorf("could not keep the lease alive: %w", err)
	}
	go func() {
		for range ch {
			// drain the keepalive responses
		}
		r.log.Debug("Registration keepalive stopped")
	}()

	r.log.Infof("Registered to etcd: %s", etcdKey)
	return r, nil
}

// Deregister removes the registration; the node disappears from Nodes.
func (r *Registry) Deregister() error {
	r.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.cli.Revoke(ctx, r.lease); err != nil {
		return fmt.Errorf("could not revoke lease: %w", err)
	}
	r.log.Infof("Deregistered %s", r.self.NodeID)
	return nil
}

// Self returns the registration of the local node.
func (r *Registry) Self() NodeRegistration {
	return r.self
}

// Nodes lists the nodes registered in an area, sorted by key.
func (r *Registry) Nodes(ctx context.Context, area string) ([]NodeRegistration, error) {
	return NewLister(r.cli).Nodes(ctx, area)
}

// Lister reads the registrations of other nodes without registering.
type Lister struct {
	cli *clientv3.Client
	log *logrus.Entry
}

func NewLister(cli *clientv3.Client) *Lister {
	return &Lister{cli: cli, log: logrus.WithField("component", "registry")}
}

// Nodes lists the nodes registered in an area, sorted by key.
func (r *Lister) Nodes(ctx context.Context, area string) ([]NodeRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp, err := r.cli.Get(ctx, areaEtcdKey(area), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("could not read from etcd: %w", err)
	}

	nodes := make([]NodeRegistration, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var reg NodeRegistration
		if err := json.Unmarshal(kv.Value, &reg); err != nil {
			r.log.Warnf("Skipping invalid registration %s: %v", kv.Key, err)
			continue
		}
		reg.Area = area
		reg.Key = path.Base(strings.TrimSuffix(string(kv.Key), "/"))
		nodes = append(nodes, reg)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes, nil
}
