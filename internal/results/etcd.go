package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/client"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore puts each result under a lease that expires after the TTL.
type EtcdStore struct {
	cli *clientv3.Client
	ttl time.Duration
}

func NewEtcdStore(cli *clientv3.Client, ttl time.Duration) *EtcdStore {
	return &EtcdStore{cli: cli, ttl: ttl}
}

func (s *EtcdStore) Publish(ctx context.Context, r client.InvocationResponse) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal response: %w", err)
	}
	lease, err := s.cli.Grant(ctx, int64(s.ttl.Seconds()))
	if err != nil {
		return err
	}
	_, err = s.cli.Put(ctx, key(r.ReqId), string(payload), clientv3.WithLease(lease.ID))
	return err
}

func (s *EtcdStore) Get(ctx context.Context, reqId string) (client.InvocationResponse, error) {
	var r client.InvocationResponse
	res, err := s.cli.Get(ctx, key(reqId))
	if err != nil {
		return r, err
	}
	if len(res.Kvs) == 0 {
		return r, ErrNotFound
	}
	if err := json.Unmarshal(res.Kvs[0].Value, &r); err != nil {
		return r, fmt.Errorf("corrupted result %s: %w", reqId, err)
	}
	return r, nil
}

// Close does not close the client, which is shared.
func (s *EtcdStore) Close() error {
	return nil
}
