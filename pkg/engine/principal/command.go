package principal

import "github.com/vnykmshr/tupleflow/pkg/engine"

// Command is the closed union of messages the controller sends to a
// principal. Commands sent to one principal are processed in send order.
type Command interface {
	isCommand()
}

// Start opens the hosted operator and begins the pull loop.
type Start struct{}

// Pause stops pulling at the next tuple boundary and acknowledges with an
// engine.PausedAck. A batch submission in flight completes first.
type Pause struct{}

// Resume continues a paused pull loop. No acknowledgment is sent.
type Resume struct{}

// Terminate closes the hosted operator regardless of state and stops the
// principal. Terminating a stopped principal is a no-op.
type Terminate struct{}

// SkipTuple discards the tuple held by a breakpoint fault and resumes the
// pull loop. Ignored unless the principal is faulted on a breakpoint.
type SkipTuple struct{}

// SwapLogic replaces the hosted operator's predicate or transform
// function. If the principal is faulted on a breakpoint, the held tuple is
// forwarded and the pull loop resumes once the swap is applied.
type SwapLogic struct {
	Logic interface{}
}

// QueryState requests the string value of a named internal variable.
type QueryState struct {
	Name string
}

// ReportStats requests an immediate statistics report.
type ReportStats struct{}

// InstallBreakpoint adds a breakpoint predicate evaluated against every
// tuple the principal is about to forward.
type InstallBreakpoint struct {
	Breakpoint engine.Breakpoint
}

func (Start) isCommand()             {}
func (Pause) isCommand()             {}
func (Resume) isCommand()            {}
func (Terminate) isCommand()         {}
func (SkipTuple) isCommand()         {}
func (SwapLogic) isCommand()         {}
func (QueryState) isCommand()        {}
func (ReportStats) isCommand()       {}
func (InstallBreakpoint) isCommand() {}
