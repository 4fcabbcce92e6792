// Package scheduling runs the claim loop that executes scheduled events.
package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Dispatcher starts invocations without waiting for them.
type Dispatcher interface {
	DispatchWithId(ctx context.Context, reqId string, fn *function.Function, payload []byte) *invocation.Future
}

// FunctionResolver looks up the metadata of a function by name.
type FunctionResolver func(name string) (*function.Function, bool)

// tracked is an invocation dispatched by this scheduler and not yet finalized.
type tracked struct {
	event    *event.ScheduledEvent
	future   *invocation.Future
	lastBeat time.Time
}

func (t *tracked) handle() event.Handle {
	return t.event.Handle()
}

// Scheduler claims due events from a shared store and runs them through a
// Dispatcher. Several schedulers may share a store; exclusion between them is
// left to the store's claims.
//
// The tracked set is owned by the goroutine calling Run.
type Scheduler struct {
	store      event.Store
	dispatcher Dispatcher
	resolve    FunctionResolver
	policy     event.RecurrencePolicy
	cfg        Config
	now        func() time.Time
	tracked    []*tracked
	log        *logrus.Entry
}

type Option func(*Scheduler)

// WithPolicy replaces event.DefaultPolicy.
func WithPolicy(p event.RecurrencePolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithResolver replaces function.GetFunction.
func WithResolver(r FunctionResolver) Option {
	return func(s *Scheduler) { s.resolve = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Scheduler) { s.log = log }
}

func New(store event.Store, dispatcher Dispatcher, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		resolve:    function.GetFunction,
		policy:     event.DefaultPolicy{},
		cfg:        cfg,
		now:        time.Now,
		log:        logrus.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes the claim loop until ctx is cancelled. Invocations still
// running at that point are abandoned; their leases expire and other
// schedulers take the events over.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("Scheduler started (poll: %v, heartbeat: %v, tolerance: %v)",
		s.cfg.PollInterval, s.cfg.HeartbeatInterval, s.cfg.Tolerance)
	for {
		s.iterate(ctx)

		select {
		case <-ctx.Done():
			s.log.Infof("Scheduler stopped with %d tracked invocations", len(s.tracked))
			return nil
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// Tracked returns the number of outstanding invocations. Not safe to call
// concurrently with Run.
func (s *Scheduler) Tracked() int {
	return len(s.tracked)
}

func (s *Scheduler) iterate(ctx context.Context) {
	s.sweep(ctx)
	s.claim(ctx)
	metrics.SetTracked(len(s.tracked))
}

// sweep heartbeats the running invocations and finalizes the finished ones.
func (s *Scheduler) sweep(ctx context.Context) {
	kept := s.tracked[:0]
	for _, t := range s.tracked {
		var keep bool
		if t.future.Finished() {
			keep = s.finalize(ctx, t)
		} else {
			keep = s.heartbeat(ctx, t)
		}
		if keep {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.tracked); i++ {
		s.tracked[i] = nil
	}
	s.tracked = kept
}

func (s *Scheduler) eventLog(t *tracked) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"event":      t.event.ID,
		"function":   t.event.Function,
		"generation": t.event.Generation,
		"request":    t.future.ReqId,
	})
}

// heartbeat refreshes the lock of a running invocation. It returns false if
// the event has been taken over and must not be tracked anymore.
func (s *Scheduler) heartbeat(ctx context.Context, t *tracked) bool {
	now := s.now()
	if now.Sub(t.lastBeat) < s.cfg.HeartbeatInterval {
		return true
	}
	err := s.store.RefreshLock(ctx, t.handle(), now)
	switch {
	case err == nil:
		t.lastBeat = now
		return true
	case errors.Is(err, event.ErrLeaseLost):
		s.eventLog(t).Warnf("Lease lost while running: %v", err)
		metrics.AddLeaseLost()
		return false
	default:
		s.eventLog(t).Errorf("Could not refresh lock: %v", err)
		return true
	}
}

// finalize stores the outcome of a finished invocation. It returns true if
// the store could not be reached and finalization must be retried.
func (s *Scheduler) finalize(ctx context.Context, t *tracked) bool {
	report, _ := t.future.Report()
	log := s.eventLog(t)
	c := event.NewCompletion(report.ReqId, report.Result, report.Duration)

	var err error
	switch next, again := s.policy.Next(t.event, s.now()); {
	case report.Dropped:
		// not executed: release the claim and keep the event due
		log.Warnf("Invocation dropped: %v", report.Result)
		err = s.store.ResetForRecurrence(ctx, t.handle(), c, t.event.NextExecution)
	case again:
		err = s.store.ResetForRecurrence(ctx, t.handle(), c, next)
		if err == nil {
			log.Debugf("Rescheduled at %v", next)
		}
	default:
		err = s.store.PersistCompletion(ctx, t.handle(), c)
	}

	switch {
	case err == nil:
		log.Debugf("Finalized: %v", report.Result)
		return false
	case errors.Is(err, event.ErrLeaseLost):
		log.Warnf("Completion discarded: %v", err)
		metrics.AddLeaseLost()
		return false
	default:
		log.Errorf("Could not store completion, will retry: %v", err)
		return true
	}
}

// claim takes at most one due event and dispatches it.
func (s *Scheduler) claim(ctx context.Context) {
	now := s.now()
	e, err := s.store.ClaimDue(ctx, now, s.cfg.Tolerance)
	if errors.Is(err, event.ErrNoEvent) {
		return
	}
	if err != nil {
		s.log.Errorf("Could not claim events: %v", err)
		return
	}
	metrics.AddClaim()

	reqId := invocation.NewReqId(e.Function)
	t := &tracked{event: e, lastBeat: now}

	fn, ok := s.resolve(e.Function)
	if !ok {
		t.future = invocation.Completed(invocation.Report{
			ReqId:    reqId,
			Function: e.Function,
			Result:   executor.Failuref(executor.InvalidFunctionDefinition, "function %s does not exist", e.Function),
			Start:    now,
		})
	} else {
		t.future = s.dispatcher.DispatchWithId(ctx, reqId, fn, e.Params)
	}
	s.eventLog(t).Debugf("Claimed event due at %v", e.NextExecution)
	s.tracked = append(s.tracked, t)
}
