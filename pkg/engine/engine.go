// Package engine defines the control-plane vocabulary shared by the
// controller and its principals: identifiers, run states, statistics,
// breakpoints, and the report union flowing from principals upward.
package engine

import (
	"github.com/google/uuid"

	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// StageID identifies one logical stage of the workflow graph. A logical
// stage may be realized by several parallel principal instances.
type StageID string

// Identity names one principal instance: its logical stage plus a unique
// instance identifier.
type Identity struct {
	Stage    StageID
	Instance string
}

// NewIdentity creates an Identity for the given stage with a fresh
// instance identifier.
func NewIdentity(stage StageID) Identity {
	return Identity{Stage: stage, Instance: uuid.NewString()}
}

// String renders the identity as stage/instance.
func (id Identity) String() string {
	return string(id.Stage) + "/" + id.Instance
}

// RunState is the local run state of a principal.
type RunState int

const (
	Uninitialized RunState = iota
	Running
	Paused
	Completed
	Faulted
)

// String returns the run state name.
func (s RunState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Severity orders run states for aggregation: the aggregate state of a
// logical stage is its most severe instance state.
func (s RunState) Severity() int {
	switch s {
	case Faulted:
		return 4
	case Paused:
		return 3
	case Running:
		return 2
	case Completed:
		return 1
	default:
		return 0
	}
}

// Statistics are the per-instance counters a principal reports upward.
type Statistics struct {
	Identity       Identity
	State          RunState
	TuplesConsumed int64
	TuplesProduced int64
}

// StageStatistics is the controller's aggregated view of one logical
// stage: instance counters summed, state reduced to the most severe.
type StageStatistics struct {
	Stage          StageID
	State          RunState
	Instances      int
	TuplesConsumed int64
	TuplesProduced int64
}

// FaultedTuple associates a tuple with the fault descriptions raised by
// breakpoint predicates evaluated against it.
type FaultedTuple struct {
	Tuple  *tuple.Tuple
	Faults []string
}

// Breakpoint is a predicate over tuples. A match suspends the evaluating
// principal until the operator resolves it.
type Breakpoint struct {
	// Condition describes the predicate; it becomes the fault description
	// on a match.
	Condition string

	// Matches evaluates the predicate against a tuple.
	Matches func(*tuple.Tuple) bool
}

// Report is the closed union of messages a principal sends upward to the
// controller. Reports from different principals may interleave freely;
// reports from one principal arrive in the order they were sent.
type Report interface {
	isReport()
}

// StartedReport signals that a principal opened its stage and carries the
// stage's resolved output schema for downstream edges.
type StartedReport struct {
	Identity Identity
	Schema   *schema.Schema
}

// PausedAck acknowledges that a principal reached the Paused state.
type PausedAck struct {
	Identity Identity
}

// SkipAck acknowledges that a faulted principal discarded its held tuple
// and resumed.
type SkipAck struct {
	Identity Identity
}

// LogicSwapped acknowledges that a principal applied a logic modification.
type LogicSwapped struct {
	Identity Identity
}

// StatisticsReport carries a principal's current counters.
type StatisticsReport struct {
	Stats Statistics
}

// BreakpointReport signals that a breakpoint matched a tuple. The
// reporting principal is Faulted until resolved.
type BreakpointReport struct {
	Identity Identity
	Fault    FaultedTuple
}

// CompletionReport signals that a principal exhausted its stage. Sink
// principals carry their materialized results.
type CompletionReport struct {
	Identity Identity
	Sink     bool
	Results  []*tuple.Tuple
}

// FailureReport signals a fatal stage error confined to one principal.
type FailureReport struct {
	Identity Identity
	Err      error
}

// StateResult answers an internal-state query for one named variable.
type StateResult struct {
	Identity Identity
	Name     string
	Value    string
	Known    bool
}

func (StartedReport) isReport()    {}
func (PausedAck) isReport()        {}
func (SkipAck) isReport()          {}
func (LogicSwapped) isReport()     {}
func (StatisticsReport) isReport() {}
func (BreakpointReport) isReport() {}
func (CompletionReport) isReport() {}
func (FailureReport) isReport()    {}
func (StateResult) isReport()      {}
