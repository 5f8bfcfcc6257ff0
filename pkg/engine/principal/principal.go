// Package principal implements the execution unit hosting one operator
// instance. Each principal runs its pull loop on its own goroutine and
// communicates with the controller exclusively through messages: commands
// arrive on a mailbox, reports flow back on the controller's report
// channel. No principal shares mutable state with any other.
package principal

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	gfcontext "github.com/vnykmshr/tupleflow/pkg/common/context"
	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/engine"
	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultMailboxBuffer = 16
)

// Config holds configuration for a principal.
type Config struct {
	// Reports is the controller-owned channel every report is sent on.
	Reports chan<- engine.Report

	// Output is the edge channel produced tuples are forwarded on.
	// Nil marks a sink principal, which materializes its tuples instead.
	Output chan<- *tuple.Tuple

	// Breakpoints are evaluated against every tuple about to be forwarded.
	Breakpoints []engine.Breakpoint

	// PollInterval bounds how long one pull may block before the loop
	// rechecks the mailbox. Defaults to 50ms.
	PollInterval time.Duration

	// MailboxBuffer is the command channel capacity. Defaults to 16.
	MailboxBuffer int

	// Logger receives lifecycle and fault logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Principal hosts exactly one operator instance and exposes it to the
// controller as a controllable, observable unit.
type Principal struct {
	identity engine.Identity
	op       operator.Operator
	reports  chan<- engine.Report
	out      chan<- *tuple.Tuple
	poll     time.Duration
	logger   *slog.Logger

	commands chan Command
	done     chan struct{}

	// Everything below is owned by the run goroutine.
	ctx         context.Context
	cancel      context.CancelFunc
	state       engine.RunState
	breakpoints []engine.Breakpoint
	pending     *tuple.Tuple
	held        *engine.FaultedTuple
	results     []*tuple.Tuple
	consumed    int64
	produced    int64
	terminated  bool
}

// New creates a principal hosting op under the given identity. The caller
// starts it with go p.Run().
func New(identity engine.Identity, op operator.Operator, cfg Config) (*Principal, error) {
	if op == nil {
		return nil, gferrors.NewConfigurationError("principal", "operator", nil, "cannot be nil")
	}
	if cfg.Reports == nil {
		return nil, gferrors.NewConfigurationError("principal", "reports", nil, "cannot be nil")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	buffer := cfg.MailboxBuffer
	if buffer <= 0 {
		buffer = defaultMailboxBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Principal{
		identity:    identity,
		op:          op,
		reports:     cfg.Reports,
		out:         cfg.Output,
		poll:        poll,
		logger:      logger.With("stage", string(identity.Stage), "instance", identity.Instance),
		commands:    make(chan Command, buffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		breakpoints: append([]engine.Breakpoint(nil), cfg.Breakpoints...),
	}, nil
}

// Identity returns the principal's identity.
func (p *Principal) Identity() engine.Identity {
	return p.identity
}

// Sink reports whether this principal materializes results instead of
// forwarding downstream.
func (p *Principal) Sink() bool {
	return p.out == nil
}

// Send delivers a command to the principal's mailbox. It fails once the
// principal has stopped.
func (p *Principal) Send(cmd Command) error {
	select {
	case p.commands <- cmd:
		return nil
	case <-p.done:
		return gferrors.ErrClosed
	}
}

// Done is closed when the principal's goroutine has exited.
func (p *Principal) Done() <-chan struct{} {
	return p.done
}

// Run executes the principal until terminated. It must be called exactly
// once, on its own goroutine.
func (p *Principal) Run() {
	defer close(p.done)
	defer p.cancel()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("principal panicked: %v\nstack:\n%s", r, debug.Stack())
			p.logger.Error("principal panic", "error", err)
			p.state = engine.Faulted
			p.report(engine.FailureReport{Identity: p.identity, Err: err})
		}
	}()

	for !p.terminated {
		switch {
		case p.state == engine.Running && p.pending != nil:
			p.forward()
		case p.state == engine.Running:
			select {
			case cmd := <-p.commands:
				p.handle(cmd)
			default:
				p.step()
			}
		default:
			p.handle(<-p.commands)
		}
	}
}

// step pulls one tuple from the hosted operator. The pull context carries
// the poll deadline so a blocked upstream cannot starve the mailbox.
func (p *Principal) step() {
	pullCtx, cancel := gfcontext.WithTimeoutOrCancel(p.ctx, p.poll)
	t, err := p.op.Next(pullCtx)
	cancel()

	switch {
	case err != nil && gfcontext.IsTimedOut(err) && p.ctx.Err() == nil:
		// no data within the poll window; recheck the mailbox
		return
	case err != nil && gfcontext.IsCanceled(err) && p.ctx.Err() != nil:
		// terminating
		return
	case err != nil:
		p.fail(err)
		return
	case t == nil:
		p.complete()
		return
	}

	p.consumed++
	if fault := p.evaluateBreakpoints(t); fault != nil {
		p.held = fault
		p.state = engine.Faulted
		p.logger.Warn("breakpoint triggered", "tuple", t.String(), "faults", fault.Faults)
		p.report(engine.BreakpointReport{Identity: p.identity, Fault: *fault})
		return
	}
	p.pending = t
}

// forward delivers the pending tuple downstream, or materializes it for a
// sink. The send stays responsive to commands; a pause taken here keeps
// the tuple pending until the next resume.
func (p *Principal) forward() {
	if p.out == nil {
		p.results = append(p.results, p.pending)
		p.produced++
		p.pending = nil
		return
	}
	for !p.terminated && p.pending != nil {
		if p.state != engine.Running {
			p.handle(<-p.commands)
			continue
		}
		select {
		case p.out <- p.pending:
			p.produced++
			p.pending = nil
		case cmd := <-p.commands:
			p.handle(cmd)
		}
	}
}

func (p *Principal) evaluateBreakpoints(t *tuple.Tuple) *engine.FaultedTuple {
	var faults []string
	for _, bp := range p.breakpoints {
		if bp.Matches != nil && bp.Matches(t) {
			faults = append(faults, bp.Condition)
		}
	}
	if faults == nil {
		return nil
	}
	return &engine.FaultedTuple{Tuple: t, Faults: faults}
}

func (p *Principal) handle(cmd Command) {
	switch c := cmd.(type) {
	case Start:
		p.start()
	case Pause:
		if p.state == engine.Running {
			p.state = engine.Paused
			p.logger.Info("paused")
			p.report(engine.PausedAck{Identity: p.identity})
		}
	case Resume:
		if p.state == engine.Paused {
			p.state = engine.Running
			p.logger.Info("resumed")
		}
	case Terminate:
		p.terminate()
	case SkipTuple:
		if p.state == engine.Faulted && p.held != nil {
			p.logger.Info("skipping faulted tuple", "tuple", p.held.Tuple.String())
			p.held = nil
			p.state = engine.Running
			p.report(engine.SkipAck{Identity: p.identity})
		}
	case SwapLogic:
		p.swapLogic(c.Logic)
	case QueryState:
		value, known := p.internalState(c.Name)
		p.report(engine.StateResult{Identity: p.identity, Name: c.Name, Value: value, Known: known})
	case ReportStats:
		p.report(engine.StatisticsReport{Stats: p.statistics()})
	case InstallBreakpoint:
		p.breakpoints = append(p.breakpoints, c.Breakpoint)
	}
}

func (p *Principal) start() {
	if p.state != engine.Uninitialized {
		return
	}
	if err := p.op.Open(p.ctx); err != nil {
		p.logger.Error("stage start failed", "error", err)
		p.state = engine.Faulted
		p.report(engine.FailureReport{Identity: p.identity, Err: err})
		return
	}
	p.state = engine.Running
	p.logger.Info("started")
	p.report(engine.StartedReport{Identity: p.identity, Schema: p.op.OutputSchema()})
}

func (p *Principal) terminate() {
	if p.terminated {
		return
	}
	p.cancel()
	if err := p.op.Close(); err != nil {
		p.logger.Warn("close failed during terminate", "error", err)
	}
	p.terminated = true
	p.logger.Info("terminated", "state", p.state.String())
}

func (p *Principal) complete() {
	if err := p.op.Close(); err != nil {
		p.fail(err)
		return
	}
	p.state = engine.Completed
	p.logger.Info("completed", "consumed", p.consumed, "produced", p.produced)
	p.report(engine.CompletionReport{Identity: p.identity, Sink: p.Sink(), Results: p.results})
}

func (p *Principal) fail(err error) {
	p.state = engine.Faulted
	p.logger.Error("stage failed", "error", err)
	_ = p.op.Close()
	p.report(engine.FailureReport{Identity: p.identity, Err: err})
}

func (p *Principal) swapLogic(logic interface{}) {
	mutable, ok := p.op.(operator.Mutable)
	if !ok {
		p.fail(gferrors.NewConfigurationError("principal", "operator", nil, "does not support logic modification"))
		return
	}
	if err := mutable.SwapLogic(logic); err != nil {
		p.fail(err)
		return
	}
	p.logger.Info("logic swapped")
	// modify-and-continue: the held tuple goes back through the swapped
	// logic, so a predicate that now rejects it drops it instead of
	// forwarding a tuple the old logic produced.
	if p.state == engine.Faulted && p.held != nil {
		held := p.held.Tuple
		p.held = nil
		p.state = engine.Running
		if re, ok := p.op.(operator.Reevaluator); ok {
			t, err := re.Reevaluate(held)
			if err != nil {
				p.fail(err)
				return
			}
			p.pending = t
		} else {
			p.pending = held
		}
	}
	p.report(engine.LogicSwapped{Identity: p.identity})
}

// internalState resolves principal-level variables first, then defers to
// the hosted operator if it is inspectable.
func (p *Principal) internalState(name string) (string, bool) {
	switch name {
	case "state":
		return p.state.String(), true
	case "consumed":
		return fmt.Sprintf("%d", p.consumed), true
	case "produced":
		return fmt.Sprintf("%d", p.produced), true
	}
	if insp, ok := p.op.(operator.Inspectable); ok {
		return insp.InternalState(name)
	}
	return "", false
}

func (p *Principal) statistics() engine.Statistics {
	return engine.Statistics{
		Identity:       p.identity,
		State:          p.state,
		TuplesConsumed: p.consumed,
		TuplesProduced: p.produced,
	}
}

func (p *Principal) report(r engine.Report) {
	p.reports <- r
}
