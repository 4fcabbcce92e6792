package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serverledge-faas/smartlambda/internal/client"
)

// RedisStore keeps results as Redis strings with an expiration.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: cli, ttl: ttl}, nil
}

func (s *RedisStore) Publish(ctx context.Context, r client.InvocationResponse) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal response: %w", err)
	}
	return s.client.Set(ctx, key(r.ReqId), payload, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, reqId string) (client.InvocationResponse, error) {
	var r client.InvocationResponse
	data, err := s.client.Get(ctx, key(reqId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("corrupted result %s: %w", reqId, err)
	}
	return r, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
