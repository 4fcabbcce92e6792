package monitoring

import (
	"testing"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	l := NewLog(10)
	l.Add(Record{Function: "f", Kind: Deployment})
	l.Add(Record{Function: "f", Kind: Execution, Duration: 100 * time.Millisecond})
	l.Add(Record{Function: "f", Kind: Execution, Duration: 300 * time.Millisecond, Error: "UserCodeFailure: boom"})
	l.Add(Record{Function: "g", Kind: Execution, Duration: time.Second})

	s := l.Stats("f")
	assert.Equal(t, int64(2), s.Executions)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, 200.0, s.AverageExecutionTime)
}

func TestStatsWithoutExecutions(t *testing.T) {
	l := NewLog(10)
	l.Add(Record{Function: "f", Kind: Deployment})
	assert.Equal(t, Statistics{}, l.Stats("f"))
	assert.Equal(t, Statistics{}, l.Stats("unknown"))
}

func TestRingOverwritesOldest(t *testing.T) {
	l := NewLog(3)
	for i := 1; i <= 5; i++ {
		l.Add(Record{Function: "f", Kind: Execution, Duration: time.Duration(i) * time.Millisecond})
	}
	records := l.Records("")
	require.Len(t, records, 3)
	assert.Equal(t, 3*time.Millisecond, records[0].Duration)
	assert.Equal(t, 5*time.Millisecond, records[2].Duration)
	assert.False(t, records[0].Time.IsZero())
}

func TestFunctions(t *testing.T) {
	l := NewLog(10)
	l.Add(Record{Function: "g", Kind: Execution})
	l.Add(Record{Function: "f", Kind: Deployment})
	l.Add(Record{Function: "g", Kind: Deletion})
	assert.Equal(t, []string{"f", "g"}, l.Functions())
	assert.Empty(t, NewLog(1).Functions())
}

func TestObserve(t *testing.T) {
	l := NewLog(10)
	l.Observe(invocation.Report{Function: "f", Start: time.Now(), Duration: 10 * time.Millisecond, Result: executor.Success(nil)})
	l.Observe(invocation.Report{Function: "f", Start: time.Now(), Duration: 30 * time.Millisecond, Result: executor.Failuref(executor.UserCodeFailure, "boom")})
	l.Observe(invocation.Report{Function: "f", Dropped: true, Result: executor.Failuref(executor.InternalError, "no resources")})

	s := l.Stats("f")
	assert.Equal(t, int64(2), s.Executions)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, 20.0, s.AverageExecutionTime)
	assert.Contains(t, l.Records("f")[1].Error, "boom")
}
