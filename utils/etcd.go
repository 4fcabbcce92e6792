package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var etcdClient *clientv3.Client = nil
var clientMutex sync.Mutex

// GetEtcdClient returns the shared etcd client, connecting on first use.
func GetEtcdClient() (*clientv3.Client, error) {
	clientMutex.Lock()
	defer clientMutex.Unlock()

	// reuse client
	if etcdClient != nil {
		return etcdClient, nil
	}

	etcdHost := config.GetString(config.ETCD_ADDRESS, "localhost:2379")
	logrus.Infof("Connecting to etcd at %s", etcdHost)
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{etcdHost},
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		logrus.Errorf("Could not connect to etcd: %v", err)
		return nil, fmt.Errorf("could not connect to etcd: %w", err)
	}

	logrus.Info("Connected to etcd")

	etcdClient = cli
	return cli, nil
}

// SetEtcdClient replaces the shared client (nil forces a reconnect on next use).
func SetEtcdClient(cli *clientv3.Client) {
	clientMutex.Lock()
	etcdClient = cli
	clientMutex.Unlock()
}

// CloseEtcdClient closes the shared client, if any.
func CloseEtcdClient() {
	clientMutex.Lock()
	defer clientMutex.Unlock()
	if etcdClient != nil {
		_ = etcdClient.Close()
		etcdClient = nil
	}
}
