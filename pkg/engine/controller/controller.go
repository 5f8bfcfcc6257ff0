// Package controller runs a workflow: it creates one principal per stage
// instance, wires the inter-stage channels, and drives the whole graph
// through a single dispatch goroutine. All principal reports and all API
// requests funnel into that goroutine, so the controller never needs a
// lock around its bookkeeping.
package controller

import (
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/engine"
	"github.com/vnykmshr/tupleflow/pkg/engine/principal"
	"github.com/vnykmshr/tupleflow/pkg/metrics"
	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
	"github.com/vnykmshr/tupleflow/pkg/workflow"
)

const (
	defaultStatsSchedule = "@every 1s"
	defaultEdgeBuffer    = 64
	defaultEventBuffer   = 256
	defaultReportBuffer  = 256
)

// BreakpointPolicy controls what happens to the rest of the workflow when
// one principal hits a breakpoint.
type BreakpointPolicy int

const (
	// BreakLocal halts only the principal that matched; the rest of the
	// workflow keeps flowing.
	BreakLocal BreakpointPolicy = iota

	// BreakGlobal additionally pauses every other principal through the
	// regular pause barrier.
	BreakGlobal
)

// Config holds controller configuration. The zero value is usable.
type Config struct {
	// Logger receives controller and principal logs. Defaults to slog.Default().
	Logger *slog.Logger

	// StatsSchedule is a cron expression (descriptors accepted) for the
	// periodic statistics sweep. Defaults to "@every 1s".
	StatsSchedule string

	// BreakpointPolicy selects the blast radius of a breakpoint match.
	// Defaults to BreakLocal.
	BreakpointPolicy BreakpointPolicy

	// Breakpoints are installed on a stage's instances before start.
	Breakpoints map[engine.StageID][]engine.Breakpoint

	// Metrics receives stage and controller instrumentation. Nil selects
	// metrics.DefaultRegistry.
	Metrics *metrics.Registry

	// EdgeBuffer is the capacity of each inter-stage channel. Defaults to 64.
	EdgeBuffer int

	// PollInterval is passed through to every principal.
	PollInterval time.Duration

	// EventBuffer is the capacity of the event channel. Defaults to 256.
	EventBuffer int
}

type instanceState struct {
	p        *principal.Principal
	stage    engine.StageID
	index    int
	state    engine.RunState
	stats    engine.Statistics
	terminal bool
	fault    *engine.FaultedTuple
	results  []*tuple.Tuple
}

// edgeState is the controller's end of one inter-stage channel, keyed by
// the producing stage. The schema targets feed the consuming instances'
// blocked Opens once the producer reports its output schema.
type edgeState struct {
	ch            chan *tuple.Tuple
	schemaTargets []chan *schema.Schema
	schemaSent    bool
	closed        bool
}

type stateQuery struct {
	name     string
	stages   []engine.StageID
	expected int
	values   map[engine.StageID][]string
}

// Controller owns a workflow run from start to teardown.
type Controller struct {
	wf      *workflow.Workflow
	logger  *slog.Logger
	metrics *metrics.Registry
	policy  BreakpointPolicy

	reports  chan engine.Report
	requests chan request
	events   chan Event
	done     chan struct{}
	stopped  chan struct{}

	schedule cron.Schedule

	// Everything below is owned by the dispatch goroutine.
	instances    map[engine.Identity]*instanceState
	byStage      map[engine.StageID][]*instanceState
	edges        map[engine.StageID]*edgeState
	started      bool
	terminating  bool
	completed    bool
	pauseActive  bool
	pauseStarted time.Time
	pausePending map[engine.Identity]struct{}
	modifyLive   map[engine.StageID]int
	queries      []*stateQuery
}

// request is the closed union of API calls forwarded into the dispatch
// goroutine.
type request interface {
	isRequest()
}

type startRequest struct{}
type pauseRequest struct{}
type resumeRequest struct{}
type terminateRequest struct{}

type skipRequest struct {
	stage engine.StageID
}

type modifyRequest struct {
	stage engine.StageID
	logic interface{}
}

type queryRequest struct {
	name   string
	stages []engine.StageID
}

type breakpointRequest struct {
	stage      engine.StageID
	breakpoint engine.Breakpoint
}

func (startRequest) isRequest()      {}
func (pauseRequest) isRequest()      {}
func (resumeRequest) isRequest()     {}
func (terminateRequest) isRequest()  {}
func (skipRequest) isRequest()       {}
func (modifyRequest) isRequest()     {}
func (queryRequest) isRequest()      {}
func (breakpointRequest) isRequest() {}

// New builds the principals and edges for wf and starts them. Principals
// idle in the Uninitialized state until Start.
func New(wf *workflow.Workflow, cfg Config) (*Controller, error) {
	if wf == nil {
		return nil, gferrors.NewConfigurationError("controller", "workflow", nil, "cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scheduleExpr := cfg.StatsSchedule
	if scheduleExpr == "" {
		scheduleExpr = defaultStatsSchedule
	}
	schedule, err := cron.ParseStandard(scheduleExpr)
	if err != nil {
		return nil, gferrors.NewConfigurationError("controller", "stats_schedule", scheduleExpr, err.Error())
	}
	edgeBuffer := cfg.EdgeBuffer
	if edgeBuffer <= 0 {
		edgeBuffer = defaultEdgeBuffer
	}
	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	registry := cfg.Metrics
	if registry == nil {
		registry = metrics.DefaultRegistry
	}

	c := &Controller{
		wf:           wf,
		logger:       logger.With("component", "controller"),
		metrics:      registry,
		policy:       cfg.BreakpointPolicy,
		reports:      make(chan engine.Report, defaultReportBuffer),
		requests:     make(chan request),
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		schedule:     schedule,
		instances:    make(map[engine.Identity]*instanceState),
		byStage:      make(map[engine.StageID][]*instanceState),
		edges:        make(map[engine.StageID]*edgeState),
		pausePending: make(map[engine.Identity]struct{}),
		modifyLive:   make(map[engine.StageID]int),
	}

	for _, stage := range wf.Stages() {
		if _, hasDownstream := wf.Downstream(stage.ID); hasDownstream {
			c.edges[stage.ID] = &edgeState{ch: make(chan *tuple.Tuple, edgeBuffer)}
		}
	}

	for _, stage := range wf.Stages() {
		upstreamID, hasUpstream := wf.Upstream(stage.ID)
		var output chan *tuple.Tuple
		if edge, ok := c.edges[stage.ID]; ok {
			output = edge.ch
		}
		for i := 0; i < stage.Parallelism; i++ {
			var upstream operator.Operator
			if hasUpstream {
				edge := c.edges[upstreamID]
				schemaCh := make(chan *schema.Schema, 1)
				edge.schemaTargets = append(edge.schemaTargets, schemaCh)
				upstream = newEdgeSource(string(upstreamID), edge.ch, schemaCh)
			}
			op, err := stage.Build(i, stage.Parallelism, upstream)
			if err != nil {
				return nil, err
			}
			identity := engine.NewIdentity(stage.ID)
			p, err := principal.New(identity, op, principal.Config{
				Reports:      c.reports,
				Output:       output,
				Breakpoints:  cfg.Breakpoints[stage.ID],
				PollInterval: cfg.PollInterval,
				Logger:       logger,
			})
			if err != nil {
				return nil, err
			}
			inst := &instanceState{p: p, stage: stage.ID, index: i}
			c.instances[identity] = inst
			c.byStage[stage.ID] = append(c.byStage[stage.ID], inst)
		}
	}

	for _, inst := range c.instances {
		go inst.p.Run()
	}
	go c.watch()
	go c.run()
	return c, nil
}

// Events returns the channel controller notifications are delivered on.
// It is closed after teardown.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Done is closed once the controller and every principal have stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start opens every stage and begins pulling.
func (c *Controller) Start() error {
	return c.submit(startRequest{})
}

// Pause broadcasts a pause and emits WorkflowPaused once every live
// principal has acknowledged.
func (c *Controller) Pause() error {
	return c.submit(pauseRequest{})
}

// Resume releases a paused workflow.
func (c *Controller) Resume() error {
	return c.submit(resumeRequest{})
}

// Terminate tears the workflow down. It is safe to call more than once.
func (c *Controller) Terminate() error {
	err := c.submit(terminateRequest{})
	if errors.Is(err, gferrors.ErrClosed) {
		return nil
	}
	return err
}

// SkipTuple resolves a triggered breakpoint on the stage by discarding the
// held tuple.
func (c *Controller) SkipTuple(stage engine.StageID) error {
	return c.submit(skipRequest{stage: stage})
}

// ModifyLogic swaps the processing logic of every instance of the stage.
// A faulted instance re-evaluates its held tuple with the new logic.
func (c *Controller) ModifyLogic(stage engine.StageID, logic interface{}) error {
	return c.submit(modifyRequest{stage: stage, logic: logic})
}

// QueryInternalState asks the named internal variable of every instance of
// the given stages (all stages when none are named). The answer arrives as
// an OperatorInternalStateResult event.
func (c *Controller) QueryInternalState(name string, stages ...engine.StageID) error {
	return c.submit(queryRequest{name: name, stages: stages})
}

// InstallBreakpoint adds a breakpoint to every instance of the stage.
func (c *Controller) InstallBreakpoint(stage engine.StageID, bp engine.Breakpoint) error {
	return c.submit(breakpointRequest{stage: stage, breakpoint: bp})
}

func (c *Controller) submit(r request) error {
	select {
	case c.requests <- r:
		return nil
	case <-c.done:
		return gferrors.ErrClosed
	}
}

// watch closes stopped once every principal goroutine has exited.
func (c *Controller) watch() {
	for _, inst := range c.instances {
		<-inst.p.Done()
	}
	close(c.stopped)
}

func (c *Controller) run() {
	timer := time.NewTimer(time.Until(c.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case r := <-c.reports:
			c.handleReport(r)
		case req := <-c.requests:
			c.handleRequest(req)
		case now := <-timer.C:
			c.statsTick()
			timer.Reset(time.Until(c.schedule.Next(now)))
		case <-c.stopped:
			close(c.events)
			close(c.done)
			return
		}
	}
}

func (c *Controller) handleRequest(req request) {
	switch r := req.(type) {
	case startRequest:
		if c.started || c.terminating {
			return
		}
		c.started = true
		c.logger.Info("starting workflow", "stages", len(c.byStage))
		c.broadcast(principal.Start{})
	case pauseRequest:
		c.beginPause()
	case resumeRequest:
		if c.terminating || c.pauseActive {
			return
		}
		c.logger.Info("resuming workflow")
		c.broadcast(principal.Resume{})
		for _, inst := range c.instances {
			if inst.state == engine.Paused {
				inst.state = engine.Running
			}
		}
	case terminateRequest:
		c.terminate()
	case skipRequest:
		for _, inst := range c.byStage[r.stage] {
			if inst.fault != nil {
				_ = inst.p.Send(principal.SkipTuple{})
			}
		}
	case modifyRequest:
		live := 0
		for _, inst := range c.byStage[r.stage] {
			if inst.terminal {
				continue
			}
			if inst.p.Send(principal.SwapLogic{Logic: r.logic}) == nil {
				live++
			}
		}
		if live == 0 {
			c.emit(ModifyLogicCompleted{Stage: r.stage})
			return
		}
		c.modifyLive[r.stage] += live
	case queryRequest:
		stages := r.stages
		if len(stages) == 0 {
			for _, stage := range c.wf.Stages() {
				stages = append(stages, stage.ID)
			}
		}
		c.queries = append(c.queries, &stateQuery{name: r.name, stages: stages})
		if len(c.queries) == 1 {
			c.dispatchQuery()
		}
	case breakpointRequest:
		for _, inst := range c.byStage[r.stage] {
			if !inst.terminal {
				_ = inst.p.Send(principal.InstallBreakpoint{Breakpoint: r.breakpoint})
			}
		}
	}
}

func (c *Controller) handleReport(r engine.Report) {
	switch rep := r.(type) {
	case engine.StartedReport:
		inst := c.instances[rep.Identity]
		inst.state = engine.Running
		c.deliverSchema(inst.stage, rep.Schema)
	case engine.PausedAck:
		inst := c.instances[rep.Identity]
		inst.state = engine.Paused
		c.ackPause(rep.Identity)
	case engine.SkipAck:
		inst := c.instances[rep.Identity]
		inst.state = engine.Running
		inst.fault = nil
		c.emit(SkipTupleResponse{Stage: inst.stage})
	case engine.LogicSwapped:
		inst := c.instances[rep.Identity]
		if inst.fault != nil {
			inst.fault = nil
			inst.state = engine.Running
		}
		c.modifyAcked(inst.stage)
	case engine.StatisticsReport:
		c.instances[rep.Stats.Identity].stats = rep.Stats
	case engine.BreakpointReport:
		inst := c.instances[rep.Identity]
		inst.state = engine.Faulted
		fault := rep.Fault
		inst.fault = &fault
		c.metrics.BreakpointsTriggered.WithLabelValues(string(inst.stage)).Inc()
		c.ackPause(rep.Identity)
		c.emit(BreakpointTriggered{Stage: inst.stage, Instance: rep.Identity.Instance, Fault: rep.Fault})
		if c.policy == BreakGlobal {
			c.beginPause()
		}
	case engine.CompletionReport:
		inst := c.instances[rep.Identity]
		inst.state = engine.Completed
		inst.terminal = true
		if rep.Sink {
			inst.results = rep.Results
		}
		c.ackPause(rep.Identity)
		c.onTerminal(inst)
		c.checkCompletion()
	case engine.FailureReport:
		inst := c.instances[rep.Identity]
		inst.state = engine.Faulted
		inst.terminal = true
		c.logger.Error("stage instance failed",
			"stage", string(inst.stage), "instance", rep.Identity.Instance, "error", rep.Err)
		c.metrics.StageFailures.WithLabelValues(string(inst.stage)).Inc()
		c.ackPause(rep.Identity)
		c.modifyAcked(inst.stage)
		c.onTerminal(inst)
	case engine.StateResult:
		c.collectState(rep)
	}
}

// beginPause broadcasts a pause and records which principals must
// acknowledge it. Principals that were already halted, completed, or
// faulted have nothing to acknowledge.
func (c *Controller) beginPause() {
	if c.pauseActive || c.terminating || c.completed {
		return
	}
	expected := c.pauseBarrier()
	c.logger.Info("pausing workflow", "awaiting", len(expected))
	c.broadcast(principal.Pause{})
	if len(expected) == 0 {
		c.emit(WorkflowPaused{})
		return
	}
	c.pausePending = expected
	c.pauseActive = true
	c.pauseStarted = time.Now()
}

// pauseBarrier returns the principals that must acknowledge a pause
// broadcast right now. Once the workflow has started, an instance still
// showing Uninitialized is counted too: its StartedReport may simply not
// have been dispatched yet while the principal is already pulling, and
// emitting WorkflowPaused without it could let a tuple cross after the
// barrier. If its start actually failed, the FailureReport retires it.
func (c *Controller) pauseBarrier() map[engine.Identity]struct{} {
	expected := make(map[engine.Identity]struct{})
	for id, inst := range c.instances {
		if inst.terminal {
			continue
		}
		switch inst.state {
		case engine.Running:
			expected[id] = struct{}{}
		case engine.Uninitialized:
			if c.started {
				expected[id] = struct{}{}
			}
		}
	}
	return expected
}

// ackPause removes the principal from the pause barrier. A terminal or
// breakpoint report counts as an acknowledgement: that principal will not
// move another tuple either.
func (c *Controller) ackPause(id engine.Identity) {
	if !c.pauseActive {
		return
	}
	delete(c.pausePending, id)
	if len(c.pausePending) > 0 {
		return
	}
	c.pauseActive = false
	elapsed := time.Since(c.pauseStarted)
	c.metrics.PauseBarrierDuration.Observe(elapsed.Seconds())
	c.logger.Info("workflow paused", "barrier", elapsed)
	c.emit(WorkflowPaused{})
}

// deliverSchema forwards the producing stage's output schema to every
// consumer instance blocked in Open. Only the first instance's report
// matters; instances of one stage share the output schema.
func (c *Controller) deliverSchema(stage engine.StageID, s *schema.Schema) {
	edge, ok := c.edges[stage]
	if !ok || edge.schemaSent {
		return
	}
	edge.schemaSent = true
	for _, target := range edge.schemaTargets {
		target <- s
	}
}

// onTerminal closes the stage's outgoing edge once every producing
// instance has stopped for good, which lets downstream consumers drain and
// complete. If the stage never opened, consumers blocked on the schema are
// released with a nil schema and fail their own start.
func (c *Controller) onTerminal(inst *instanceState) {
	for _, sibling := range c.byStage[inst.stage] {
		if !sibling.terminal {
			return
		}
	}
	edge, ok := c.edges[inst.stage]
	if !ok {
		return
	}
	if !edge.schemaSent {
		edge.schemaSent = true
		for _, target := range edge.schemaTargets {
			target <- nil
		}
	}
	if !edge.closed {
		edge.closed = true
		close(edge.ch)
	}
}

func (c *Controller) checkCompletion() {
	if c.completed || c.terminating {
		return
	}
	results := make(map[engine.StageID][]*tuple.Tuple)
	for _, sink := range c.wf.Sinks() {
		var collected []*tuple.Tuple
		for _, inst := range c.byStage[sink] {
			if inst.state != engine.Completed {
				return
			}
			collected = append(collected, inst.results...)
		}
		results[sink] = collected
	}
	c.completed = true
	c.metrics.WorkflowsCompleted.Inc()
	c.logger.Info("workflow completed", "sinks", len(results))
	c.emit(WorkflowCompleted{SinkResults: results})
	c.terminate()
}

func (c *Controller) terminate() {
	if c.terminating {
		return
	}
	c.terminating = true
	c.pauseActive = false
	for _, edge := range c.edges {
		if !edge.schemaSent {
			edge.schemaSent = true
			for _, target := range edge.schemaTargets {
				target <- nil
			}
		}
	}
	c.logger.Info("terminating workflow")
	// Terminate goes to every principal, terminal or not: completed and
	// failed principals still sit in their command loop until told to exit.
	for _, inst := range c.instances {
		_ = inst.p.Send(principal.Terminate{})
	}
}

// modifyAcked settles one outstanding logic modification on the stage. A
// failed instance settles its slot too: it will never apply the swap, and
// waiting for it would hang the completion event forever.
func (c *Controller) modifyAcked(stage engine.StageID) {
	n, ok := c.modifyLive[stage]
	if !ok {
		return
	}
	n--
	if n > 0 {
		c.modifyLive[stage] = n
		return
	}
	delete(c.modifyLive, stage)
	c.emit(ModifyLogicCompleted{Stage: stage})
}

func (c *Controller) dispatchQuery() {
	q := c.queries[0]
	q.values = make(map[engine.StageID][]string)
	for _, stage := range q.stages {
		insts := c.byStage[stage]
		q.values[stage] = make([]string, len(insts))
		for _, inst := range insts {
			if inst.p.Send(principal.QueryState{Name: q.name}) == nil {
				q.expected++
			}
		}
	}
	if q.expected == 0 {
		c.emit(OperatorInternalStateResult{Name: q.name, Values: q.values})
		c.queries = c.queries[1:]
		if len(c.queries) > 0 {
			c.dispatchQuery()
		}
	}
}

func (c *Controller) collectState(rep engine.StateResult) {
	if len(c.queries) == 0 {
		return
	}
	q := c.queries[0]
	if rep.Name != q.name {
		return
	}
	inst := c.instances[rep.Identity]
	slots, ok := q.values[inst.stage]
	if !ok || inst.index >= len(slots) {
		return
	}
	if rep.Known {
		slots[inst.index] = rep.Value
	}
	q.expected--
	if q.expected > 0 {
		return
	}
	c.emit(OperatorInternalStateResult{Name: q.name, Values: q.values})
	c.queries = c.queries[1:]
	if len(c.queries) > 0 {
		c.dispatchQuery()
	}
}

// statsTick broadcasts a counter sweep and publishes the aggregate built
// from the previous sweep's replies plus current lifecycle states.
func (c *Controller) statsTick() {
	if !c.started || c.terminating {
		return
	}
	for _, inst := range c.instances {
		if !inst.terminal {
			_ = inst.p.Send(principal.ReportStats{})
		}
	}
	c.publishStats()
}

func (c *Controller) publishStats() {
	stats := make(map[engine.StageID]engine.StageStatistics, len(c.byStage))
	for stage, insts := range c.byStage {
		agg := engine.StageStatistics{Stage: stage, Instances: len(insts)}
		for _, inst := range insts {
			agg.TuplesConsumed += inst.stats.TuplesConsumed
			agg.TuplesProduced += inst.stats.TuplesProduced
			if inst.state.Severity() > agg.State.Severity() {
				agg.State = inst.state
			}
		}
		stats[stage] = agg
		label := string(stage)
		c.metrics.TuplesConsumed.WithLabelValues(label).Set(float64(agg.TuplesConsumed))
		c.metrics.TuplesProduced.WithLabelValues(label).Set(float64(agg.TuplesProduced))
		c.metrics.StageState.WithLabelValues(label).Set(float64(agg.State))
	}
	// Status updates are periodic; dropping one under a slow consumer is
	// preferable to stalling the dispatch loop.
	select {
	case c.events <- WorkflowStatusUpdate{Stats: stats}:
	default:
	}
}

func (c *Controller) broadcast(cmd principal.Command) {
	for _, inst := range c.instances {
		if !inst.terminal {
			_ = inst.p.Send(cmd)
		}
	}
}

func (c *Controller) emit(e Event) {
	c.events <- e
}
