package controller

import (
	"github.com/vnykmshr/tupleflow/pkg/engine"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// Event is the closed union of notifications the controller emits to
// external consumers such as a UI or a test harness.
type Event interface {
	isEvent()
}

// WorkflowCompleted carries the materialized output of every sink stage,
// keyed by logical stage. Instance results are concatenated in instance
// order.
type WorkflowCompleted struct {
	SinkResults map[engine.StageID][]*tuple.Tuple
}

// WorkflowPaused signals that every live principal acknowledged the pause
// barrier. No tuple crosses a principal boundary until the next resume.
type WorkflowPaused struct{}

// WorkflowStatusUpdate carries statistics aggregated by logical stage.
type WorkflowStatusUpdate struct {
	Stats map[engine.StageID]engine.StageStatistics
}

// ModifyLogicCompleted signals that every instance of the stage applied a
// logic modification.
type ModifyLogicCompleted struct {
	Stage engine.StageID
}

// OperatorInternalStateResult answers an internal-state query: for each
// queried stage, the per-instance string values in instance order.
type OperatorInternalStateResult struct {
	Name   string
	Values map[engine.StageID][]string
}

// BreakpointTriggered signals that a breakpoint matched in one principal.
// That principal stays faulted until resolved by SkipTuple or ModifyLogic.
type BreakpointTriggered struct {
	Stage    engine.StageID
	Instance string
	Fault    engine.FaultedTuple
}

// SkipTupleResponse signals that a faulted principal discarded its held
// tuple and resumed.
type SkipTupleResponse struct {
	Stage engine.StageID
}

func (WorkflowCompleted) isEvent()            {}
func (WorkflowPaused) isEvent()               {}
func (WorkflowStatusUpdate) isEvent()         {}
func (ModifyLogicCompleted) isEvent()         {}
func (OperatorInternalStateResult) isEvent()  {}
func (BreakpointTriggered) isEvent()          {}
func (SkipTupleResponse) isEvent()            {}
