package event

import (
	"context"
	"fmt"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/utils"
)

// NewStore builds the store selected by event.store.
func NewStore(ctx context.Context) (Store, error) {
	kind := config.GetString(config.EVENT_STORE, "etcd")
	switch kind {
	case "etcd":
		cli, err := utils.GetEtcdClient()
		if err != nil {
			return nil, err
		}
		return NewEtcdStore(cli), nil
	case "postgres":
		dsn := config.GetString(config.POSTGRES_DSN, "")
		if dsn == "" {
			return nil, fmt.Errorf("%s is required by the postgres event store", config.POSTGRES_DSN)
		}
		return NewPostgresStore(ctx, dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown event store %q", kind)
	}
}
