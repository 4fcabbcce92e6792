// Package monitoring keeps a bounded in-memory log of function lifecycle
// events and derives per-function statistics from it.
package monitoring

import (
	"sync"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Kind string

const (
	Execution  Kind = "execution"
	Deployment Kind = "deployment"
	Deletion   Kind = "deletion"
)

// Record is a single monitoring event.
type Record struct {
	Time     time.Time
	Function string
	Kind     Kind
	Duration time.Duration `json:",omitempty"`
	Error    string        `json:",omitempty"`
}

// Statistics summarizes the executions of a function.
type Statistics struct {
	Executions           int64
	Errors               int64
	AverageExecutionTime float64 // milliseconds
}

// Log is a fixed-capacity ring of records; the oldest are overwritten.
type Log struct {
	mu      sync.RWMutex
	records []Record
	next    int
	full    bool
}

func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{records: make([]Record, capacity)}
}

func (l *Log) Add(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[l.next] = r
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// Records returns the records of a function, oldest first. An empty name
// selects every function.
func (l *Log) Records(function string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	visit := func(r Record) {
		if function == "" || r.Function == function {
			out = append(out, r)
		}
	}
	if l.full {
		for _, r := range l.records[l.next:] {
			visit(r)
		}
	}
	for _, r := range l.records[:l.next] {
		visit(r)
	}
	return out
}

// Stats computes the execution statistics of a function.
func (l *Log) Stats(function string) Statistics {
	var s Statistics
	var total time.Duration
	for _, r := range l.Records(function) {
		if r.Kind != Execution {
			continue
		}
		s.Executions++
		if r.Error != "" {
			s.Errors++
		}
		total += r.Duration
	}
	if s.Executions > 0 {
		s.AverageExecutionTime = float64(total.Milliseconds()) / float64(s.Executions)
	}
	return s
}

// Functions returns the names of the functions with at least one record, sorted.
func (l *Log) Functions() []string {
	seen := make(map[string]struct{})
	for _, r := range l.Records("") {
		seen[r.Function] = struct{}{}
	}
	names := maps.Keys(seen)
	slices.Sort(names)
	return names
}

// Observe records a finished invocation. Dropped invocations never ran and
// are not recorded.
func (l *Log) Observe(r invocation.Report) {
	if r.Dropped {
		return
	}
	rec := Record{Time: r.Start, Function: r.Function, Kind: Execution, Duration: r.Duration}
	if err := r.Result.Err(); err != nil {
		rec.Error = err.Error()
	}
	l.Add(rec)
}
