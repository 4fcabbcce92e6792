// Package event persists scheduled invocations and the leases that let a pool
// of schedulers share them.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serverledge-faas/smartlambda/internal/executor"
)

var (
	// ErrNoEvent is returned by ClaimDue when nothing can be claimed.
	ErrNoEvent = errors.New("no claimable event")
	// ErrLeaseLost is returned when the caller no longer holds the claim on an event.
	ErrLeaseLost = errors.New("lease lost")
	ErrNotFound  = errors.New("event not found")
	ErrInvalid   = errors.New("invalid event")
)

// DefaultTolerance is the lock age after which a claim is considered abandoned.
const DefaultTolerance = 2 * time.Minute

// ScheduledEvent is a function invocation to run at NextExecution.
type ScheduledEvent struct {
	ID            string
	Name          string
	Function      string
	Params        json.RawMessage `json:",omitempty"`
	NextExecution time.Time
	// Lock is the time of the last claim or heartbeat; nil when unclaimed.
	Lock *time.Time `json:",omitempty"`
	// Generation is incremented by every claim. Heartbeats and completions
	// carry the generation they were claimed with.
	Generation int64
	Recurrence Recurrence
	Completed  bool
	Last       *Completion `json:",omitempty"`
}

// Completion is the outcome of the last execution of an event.
type Completion struct {
	Time        time.Time
	ReqId       string                    `json:",omitempty"`
	Duration    time.Duration             `json:",omitempty"`
	ReturnValue json.RawMessage           `json:",omitempty"`
	Error       *executor.InvocationError `json:",omitempty"`
}

// NewCompletion records an invocation result.
func NewCompletion(reqId string, result executor.InvocationResult, duration time.Duration) Completion {
	c := Completion{Time: time.Now(), ReqId: reqId, Duration: duration, Error: result.Err()}
	if v, ok := result.ReturnValue(); ok {
		c.ReturnValue = v
	}
	return c
}

// Handle identifies a claim on an event.
type Handle struct {
	ID         string
	Generation int64
}

func (e *ScheduledEvent) Handle() Handle {
	return Handle{ID: e.ID, Generation: e.Generation}
}

func (e *ScheduledEvent) String() string {
	return fmt.Sprintf("%s(%s)", e.ID, e.Function)
}

// Claimable reports whether the event is due at now and its lock, if any, is
// older than tolerance.
func (e *ScheduledEvent) Claimable(now time.Time, tolerance time.Duration) bool {
	if e.Completed || e.NextExecution.After(now) {
		return false
	}
	return e.Lock == nil || !e.Lock.After(now.Add(-tolerance))
}

// Validate fills the ID and checks the required fields.
func (e *ScheduledEvent) Validate() error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if strings.ContainsRune(e.ID, '/') {
		return fmt.Errorf("%w: id cannot contain '/'", ErrInvalid)
	}
	if e.Function == "" {
		return fmt.Errorf("%w: missing function", ErrInvalid)
	}
	if e.NextExecution.IsZero() {
		return fmt.Errorf("%w: missing next execution", ErrInvalid)
	}
	if len(e.Params) > 0 && !json.Valid(e.Params) {
		return fmt.Errorf("%w: params are not valid JSON", ErrInvalid)
	}
	if err := e.Recurrence.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Store is the shared storage of scheduled events.
//
// ClaimDue atomically picks one claimable event, stamps its lock with now and
// increments its generation; concurrent callers never obtain the same claim.
// RefreshLock, PersistCompletion and ResetForRecurrence succeed only while the
// handle's generation is current, failing with ErrLeaseLost otherwise.
type Store interface {
	Create(ctx context.Context, e *ScheduledEvent) error
	Get(ctx context.Context, id string) (*ScheduledEvent, error)
	// List returns the events of a function, or all of them if function is empty.
	List(ctx context.Context, function string) ([]*ScheduledEvent, error)
	Delete(ctx context.Context, id string) error

	ClaimDue(ctx context.Context, now time.Time, tolerance time.Duration) (*ScheduledEvent, error)
	RefreshLock(ctx context.Context, h Handle, now time.Time) error
	// PersistCompletion marks the event completed and clears its lock.
	PersistCompletion(ctx context.Context, h Handle, c Completion) error
	// ResetForRecurrence records the completion, moves NextExecution to next
	// and clears the lock.
	ResetForRecurrence(ctx context.Context, h Handle, c Completion, next time.Time) error

	Close() error
}

func checkLease(e *ScheduledEvent, h Handle) error {
	if e.Generation != h.Generation || e.Lock == nil {
		return fmt.Errorf("%w: %s generation %d, current %d", ErrLeaseLost, h.ID, h.Generation, e.Generation)
	}
	return nil
}

// claim, refresh, complete and reset are the state transitions shared by the stores.

func claim(e *ScheduledEvent, now time.Time) {
	lock := now
	e.Lock = &lock
	e.Generation++
}

func refresh(e *ScheduledEvent, h Handle, now time.Time) error {
	if err := checkLease(e, h); err != nil {
		return err
	}
	lock := now
	e.Lock = &lock
	return nil
}

func complete(e *ScheduledEvent, h Handle, c Completion) error {
	if err := checkLease(e, h); err != nil {
		return err
	}
	e.Lock = nil
	e.Completed = true
	e.Last = &c
	return nil
}

func reset(e *ScheduledEvent, h Handle, c Completion, next time.Time) error {
	if err := checkLease(e, h); err != nil {
		return err
	}
	e.Lock = nil
	e.NextExecution = next
	e.Last = &c
	return nil
}

func copyEvent(e *ScheduledEvent) *ScheduledEvent {
	cp := *e
	if e.Lock != nil {
		lock := *e.Lock
		cp.Lock = &lock
	}
	if e.Last != nil {
		last := *e.Last
		cp.Last = &last
	}
	return &cp
}
