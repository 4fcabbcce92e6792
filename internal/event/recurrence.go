package event

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type RecurrenceKind string

const (
	Once  RecurrenceKind = "once"
	Every RecurrenceKind = "every"
	Cron  RecurrenceKind = "cron"
)

// Recurrence describes when an event runs again after an execution.
// The zero value runs once.
type Recurrence struct {
	Kind  RecurrenceKind `json:",omitempty"`
	Every string         `json:",omitempty"` // Go duration, e.g. "5m"
	Cron  string         `json:",omitempty"` // standard 5-field expression
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case "", Once:
		return nil
	case Every:
		d, err := time.ParseDuration(r.Every)
		if err != nil {
			return fmt.Errorf("bad interval %q: %w", r.Every, err)
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		return nil
	case Cron:
		_, err := cron.ParseStandard(r.Cron)
		if err != nil {
			return fmt.Errorf("bad cron expression %q: %w", r.Cron, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence %q", r.Kind)
	}
}

// RecurrencePolicy decides whether and when a completed event runs again.
type RecurrencePolicy interface {
	Next(e *ScheduledEvent, now time.Time) (time.Time, bool)
}

// DefaultPolicy follows the Recurrence of each event.
type DefaultPolicy struct{}

// Next returns the first execution time after now. Intervals are anchored at
// the previous NextExecution, skipping the slots missed while the event ran.
func (DefaultPolicy) Next(e *ScheduledEvent, now time.Time) (time.Time, bool) {
	r := e.Recurrence
	switch r.Kind {
	case Every:
		every, err := time.ParseDuration(r.Every)
		if err != nil || every <= 0 {
			return time.Time{}, false
		}
		next := e.NextExecution.Add(every)
		if !next.After(now) {
			missed := now.Sub(e.NextExecution) / every
			next = e.NextExecution.Add((missed + 1) * every)
		}
		return next, true
	case Cron:
		sched, err := cron.ParseStandard(r.Cron)
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(now), true
	default:
		return time.Time{}, false
	}
}
