package client

import (
	"encoding/json"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/event"
)

// InvocationRequest is an external invocation of a function (from API or CLI)
type InvocationRequest struct {
	Params json.RawMessage
	// Async overrides the default of the function when set
	Async *bool `json:",omitempty"`
}

// InvocationResponse is the outcome of an invocation, returned by sync
// invocations and by polling async ones.
type InvocationResponse struct {
	ReqId       string
	Function    string
	Success     bool
	ReturnValue json.RawMessage `json:",omitempty"`
	Error       string          `json:",omitempty"`
	Kind        string          `json:",omitempty"`
	Duration    float64         // seconds
}

// AsyncResponse is returned when an invocation is accepted for async execution.
type AsyncResponse struct {
	ReqId string
}

type FunctionDeletionRequest struct {
	Name string
}

// FunctionUpdateRequest changes some fields of an existing function; nil
// fields are left unchanged.
type FunctionUpdateRequest struct {
	Name          string
	HasParameter  *bool   `json:",omitempty"`
	ParameterType *string `json:",omitempty"`
	Async         *bool   `json:",omitempty"`
	MemoryMB      *int64  `json:",omitempty"`
	Timeout       *int    `json:",omitempty"`
}

// ScheduleRequest creates a scheduled invocation.
type ScheduleRequest struct {
	Name          string
	Function      string
	NextExecution time.Time
	Params        json.RawMessage  `json:",omitempty"`
	Recurrence    event.Recurrence `json:",omitempty"`
}

type ScheduleResponse struct {
	ID string
}

// StatusInformation describes the state of a node.
type StatusInformation struct {
	Node           string
	AvailableMemMB int64
	UsedMemMB      int64
	TotalMemMB     int64
	AvailableCPUs  float64
	Running        int
	LoadAvg        []float64
	Scheduler      bool
}

// FunctionStatistics merges local monitoring with cluster-wide metrics.
type FunctionStatistics struct {
	Function             string
	Executions           int64
	Errors               int64
	AverageExecutionTime float64 // milliseconds
	ClusterCompletions   float64 `json:",omitempty"`
	ClusterFailures      float64 `json:",omitempty"`
	ClusterAvgTime       float64 `json:",omitempty"` // seconds
}
