package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/schedule/"

// completed one-shot events are moved out of etcdPrefix, so that claims only
// scan events that can still run
const etcdCompletedPrefix = "/schedule-completed/"

// maxUpdateAttempts bounds the compare-and-swap retries of a single update.
const maxUpdateAttempts = 5

// EtcdStore keeps events in etcd. Every state transition is a transaction
// conditional on the ModRevision read, so two schedulers can never both
// apply a transition to the same version of an event.
type EtcdStore struct {
	cli *clientv3.Client
}

func NewEtcdStore(cli *clientv3.Client) *EtcdStore {
	return &EtcdStore{cli: cli}
}

func etcdKey(id string) string {
	return etcdPrefix + id
}

func completedKey(id string) string {
	return etcdCompletedPrefix + id
}

func (s *EtcdStore) Create(ctx context.Context, e *ScheduledEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := etcdKey(e.ID)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0),
			clientv3.Compare(clientv3.CreateRevision(completedKey(e.ID)), "=", 0)).
		Then(clientv3.OpPut(key, string(payload))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalid, e.ID)
	}
	return nil
}

// get reads an event that has not completed.
func (s *EtcdStore) get(ctx context.Context, id string) (*ScheduledEvent, int64, error) {
	return s.getKey(ctx, etcdKey(id), id)
}

func (s *EtcdStore) getKey(ctx context.Context, key, id string) (*ScheduledEvent, int64, error) {
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, ErrNotFound
	}
	var e ScheduledEvent
	if err := json.Unmarshal(resp.Kvs[0].Value, &e); err != nil {
		return nil, 0, fmt.Errorf("corrupted event %s: %w", id, err)
	}
	return &e, resp.Kvs[0].ModRevision, nil
}

func (s *EtcdStore) Get(ctx context.Context, id string) (*ScheduledEvent, error) {
	e, _, err := s.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		e, _, err = s.getKey(ctx, completedKey(id), id)
	}
	return e, err
}

type versionedEvent struct {
	event       *ScheduledEvent
	modRevision int64
}

func (s *EtcdStore) scan(ctx context.Context, prefix string) ([]versionedEvent, error) {
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]versionedEvent, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var e ScheduledEvent
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			// skip, a corrupted event must not block the others
			continue
		}
		out = append(out, versionedEvent{&e, kv.ModRevision})
	}
	return out, nil
}

func (s *EtcdStore) List(ctx context.Context, function string) ([]*ScheduledEvent, error) {
	all, err := s.scan(ctx, etcdPrefix)
	if err != nil {
		return nil, err
	}
	completed, err := s.scan(ctx, etcdCompletedPrefix)
	if err != nil {
		return nil, err
	}
	all = append(all, completed...)
	var out []*ScheduledEvent
	for _, v := range all {
		if function == "" || v.event.Function == function {
			out = append(out, v.event)
		}
	}
	sortByNextExecution(out)
	return out, nil
}

func (s *EtcdStore) Delete(ctx context.Context, id string) error {
	resp, err := s.cli.Txn(ctx).
		Then(clientv3.OpDelete(etcdKey(id)), clientv3.OpDelete(completedKey(id))).
		Commit()
	if err != nil {
		return err
	}
	var deleted int64
	for _, r := range resp.Responses {
		deleted += r.GetResponseDeleteRange().GetDeleted()
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// swap writes e if the key is still at modRevision.
func (s *EtcdStore) swap(ctx context.Context, e *ScheduledEvent, modRevision int64) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	key := etcdKey(e.ID)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
		Then(clientv3.OpPut(key, string(payload))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// archive moves e under the completed prefix if its key is still at modRevision.
func (s *EtcdStore) archive(ctx context.Context, e *ScheduledEvent, modRevision int64) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	key := etcdKey(e.ID)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
		Then(clientv3.OpDelete(key), clientv3.OpPut(completedKey(e.ID), string(payload))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// ClaimDue tries the due events in order of next execution. A lost race on
// one candidate moves on to the next one.
func (s *EtcdStore) ClaimDue(ctx context.Context, now time.Time, tolerance time.Duration) (*ScheduledEvent, error) {
	all, err := s.scan(ctx, etcdPrefix)
	if err != nil {
		return nil, err
	}

	var due []versionedEvent
	for _, v := range all {
		if v.event.Claimable(now, tolerance) {
			due = append(due, v)
		}
	}
	events := make([]*ScheduledEvent, len(due))
	revisions := make(map[string]int64, len(due))
	for i, v := range due {
		events[i] = v.event
		revisions[v.event.ID] = v.modRevision
	}
	sortByNextExecution(events)

	for _, e := range events {
		claim(e, now)
		ok, err := s.swap(ctx, e, revisions[e.ID])
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
	}
	return nil, ErrNoEvent
}

type writeFunc func(ctx context.Context, e *ScheduledEvent, modRevision int64) (bool, error)

// update applies fn to the current version of an event and stores it with
// write, retrying when the event changes between the read and the write.
func (s *EtcdStore) update(ctx context.Context, id string, fn func(e *ScheduledEvent) error, write writeFunc) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		e, rev, err := s.get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrLeaseLost, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		ok, err := write(ctx, e, rev)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("too much contention on event %s", id)
}

func (s *EtcdStore) RefreshLock(ctx context.Context, h Handle, now time.Time) error {
	return s.update(ctx, h.ID, func(e *ScheduledEvent) error { return refresh(e, h, now) }, s.swap)
}

func (s *EtcdStore) PersistCompletion(ctx context.Context, h Handle, c Completion) error {
	return s.update(ctx, h.ID, func(e *ScheduledEvent) error { return complete(e, h, c) }, s.archive)
}

func (s *EtcdStore) ResetForRecurrence(ctx context.Context, h Handle, c Completion, next time.Time) error {
	return s.update(ctx, h.ID, func(e *ScheduledEvent) error { return reset(e, h, c, next) }, s.swap)
}

// Close does not close the client, which is shared.
func (s *EtcdStore) Close() error {
	return nil
}
