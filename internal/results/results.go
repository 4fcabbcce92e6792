// Package results keeps the outcome of async invocations until they are polled.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/client"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/utils"
)

var ErrNotFound = errors.New("result not found")

// DefaultTTL is how long a result is kept when results.ttl is not set.
const DefaultTTL = 30 * time.Minute

type Store interface {
	Publish(ctx context.Context, r client.InvocationResponse) error
	// Get returns the result of reqId, or ErrNotFound if it is not available
	// (yet, or anymore).
	Get(ctx context.Context, reqId string) (client.InvocationResponse, error)
	Close() error
}

func key(reqId string) string {
	return fmt.Sprintf("async/%s", reqId)
}

// FromReport converts the outcome of an invocation to its external form.
func FromReport(r invocation.Report) client.InvocationResponse {
	resp := client.InvocationResponse{
		ReqId:    r.ReqId,
		Function: r.Function,
		Duration: r.Duration.Seconds(),
	}
	if err := r.Result.Err(); err != nil {
		resp.Error = err.Message
		resp.Kind = string(err.Kind)
		return resp
	}
	resp.Success = true
	resp.ReturnValue, _ = r.Result.ReturnValue()
	return resp
}

// NewStore builds the store selected by results.store.
func NewStore() (Store, error) {
	ttl := config.GetDuration(config.RESULTS_TTL, DefaultTTL)
	switch kind := config.GetString(config.RESULTS_STORE, "etcd"); kind {
	case "etcd":
		cli, err := utils.GetEtcdClient()
		if err != nil {
			return nil, err
		}
		return NewEtcdStore(cli, ttl), nil
	case "redis":
		return NewRedisStore(
			config.GetString(config.REDIS_ADDRESS, "localhost:6379"),
			config.GetString(config.REDIS_PASSWORD, ""),
			config.GetInt(config.REDIS_DB, 0),
			ttl)
	default:
		return nil, fmt.Errorf("unknown results store %q", kind)
	}
}
