package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps events in process memory. Claims are exclusive among the
// schedulers of one process only.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*ScheduledEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*ScheduledEvent)}
}

func (s *MemoryStore) Create(_ context.Context, e *ScheduledEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalid, e.ID)
	}
	s.events[e.ID] = copyEvent(e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*ScheduledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(e), nil
}

func (s *MemoryStore) List(_ context.Context, function string) ([]*ScheduledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ScheduledEvent
	for _, e := range s.events {
		if function == "" || e.Function == function {
			out = append(out, copyEvent(e))
		}
	}
	sortByNextExecution(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, tolerance time.Duration) (*ScheduledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due *ScheduledEvent
	for _, e := range s.events {
		if e.Claimable(now, tolerance) && (due == nil || e.NextExecution.Before(due.NextExecution)) {
			due = e
		}
	}
	if due == nil {
		return nil, ErrNoEvent
	}
	claim(due, now)
	return copyEvent(due), nil
}

func (s *MemoryStore) update(id string, fn func(e *ScheduledEvent) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: %w", ErrLeaseLost, ErrNotFound)
	}
	cp := copyEvent(e)
	if err := fn(cp); err != nil {
		return err
	}
	s.events[id] = cp
	return nil
}

func (s *MemoryStore) RefreshLock(_ context.Context, h Handle, now time.Time) error {
	return s.update(h.ID, func(e *ScheduledEvent) error { return refresh(e, h, now) })
}

func (s *MemoryStore) PersistCompletion(_ context.Context, h Handle, c Completion) error {
	return s.update(h.ID, func(e *ScheduledEvent) error { return complete(e, h, c) })
}

func (s *MemoryStore) ResetForRecurrence(_ context.Context, h Handle, c Completion, next time.Time) error {
	return s.update(h.ID, func(e *ScheduledEvent) error { return reset(e, h, c, next) })
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortByNextExecution(events []*ScheduledEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].NextExecution.Equal(events[j].NextExecution) {
			return events[i].ID < events[j].ID
		}
		return events[i].NextExecution.Before(events[j].NextExecution)
	})
}
