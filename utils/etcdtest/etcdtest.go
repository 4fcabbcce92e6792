// Package etcdtest starts a throwaway single-member etcd for tests.
package etcdtest

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/serverledge-faas/smartlambda/utils"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// Start launches an embedded etcd in a temporary directory and returns a
// client connected to it. Both are torn down when the test ends.
// Tests calling Start are skipped in -short mode.
func Start(t testing.TB) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("embedded etcd skipped in short mode")
	}

	clientURL := mustURL(t)
	peerURL := mustURL(t)

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.ListenClientUrls = []url.URL{clientURL}
	cfg.AdvertiseClientUrls = []url.URL{clientURL}
	cfg.ListenPeerUrls = []url.URL{peerURL}
	cfg.AdvertisePeerUrls = []url.URL{peerURL}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatalf("could not start embedded etcd: %v", err)
	}
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(30 * time.Second):
		e.Close()
		t.Fatal("embedded etcd took too long to start")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{clientURL.Host},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		e.Close()
		t.Fatalf("could not connect to embedded etcd: %v", err)
	}

	t.Cleanup(func() {
		_ = cli.Close()
		e.Close()
	})
	return cli
}

// StartShared is like Start but also installs the client as the process-wide
// etcd client returned by utils.GetEtcdClient.
func StartShared(t testing.TB) *clientv3.Client {
	cli := Start(t)
	utils.SetEtcdClient(cli)
	t.Cleanup(func() { utils.SetEtcdClient(nil) })
	return cli
}

func mustURL(t testing.TB) url.URL {
	port, err := utils.FreePort()
	if err != nil {
		t.Fatalf("no free port: %v", err)
	}
	u, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	return *u
}
