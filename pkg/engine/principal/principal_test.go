package principal

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/engine"
	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

const testTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSchema() *schema.Schema {
	return schema.MustNew(
		schema.Attribute{Name: "text", Type: schema.TypeText},
		schema.Attribute{Name: "n", Type: schema.TypeInteger},
	)
}

func testRows(s *schema.Schema, n int) []*tuple.Tuple {
	rows := make([]*tuple.Tuple, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, tuple.MustNew(s, "row", i))
	}
	return rows
}

// startSink builds and runs a sink principal over a slice source.
func startSink(t *testing.T, rows []*tuple.Tuple, cfg Config) (*Principal, chan engine.Report) {
	t.Helper()
	reports := make(chan engine.Report, 64)
	cfg.Reports = reports
	cfg.Logger = quietLogger()
	src := operator.NewSliceSource(testSchema(), rows)
	p, err := New(engine.NewIdentity("sink"), src, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	t.Cleanup(func() {
		_ = p.Send(Terminate{})
		select {
		case <-p.Done():
		case <-time.After(testTimeout):
			t.Error("principal did not stop")
		}
	})
	return p, reports
}

func awaitReport[T engine.Report](t *testing.T, reports chan engine.Report) T {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case r := <-reports:
			if typed, ok := r.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return *new(T)
		}
	}
}

func TestRunToCompletion(t *testing.T) {
	p, reports := startSink(t, testRows(testSchema(), 3), Config{})

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := awaitReport[engine.CompletionReport](t, reports)
	if !done.Sink {
		t.Error("expected a sink completion")
	}
	if len(done.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(done.Results))
	}
	for i, tp := range done.Results {
		if tp.Field(1) != i {
			t.Errorf("result %d out of order: %v", i, tp)
		}
	}
}

func TestPauseAckAndResume(t *testing.T) {
	s := testSchema()
	ch := make(chan *tuple.Tuple, 1)
	reports := make(chan engine.Report, 64)
	src := operator.NewChannelSource(s, ch)
	p, err := New(engine.NewIdentity("stage"), src, Config{Reports: reports, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	defer func() { _ = p.Send(Terminate{}) }()

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Send(Pause{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack := awaitReport[engine.PausedAck](t, reports)
	if ack.Identity != p.Identity() {
		t.Error("ack carries the wrong identity")
	}

	// while paused, statistics must show the paused state
	if err := p.Send(ReportStats{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := awaitReport[engine.StatisticsReport](t, reports)
	if stats.Stats.State != engine.Paused {
		t.Errorf("got state %v, want paused", stats.Stats.State)
	}

	// resuming and closing the source completes the principal
	if err := p.Send(Resume{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch <- tuple.MustNew(s, "a", 0)
	close(ch)
	done := awaitReport[engine.CompletionReport](t, reports)
	if len(done.Results) != 1 {
		t.Errorf("got %d results, want 1", len(done.Results))
	}
}

func TestBreakpointHaltsAndSkipResumes(t *testing.T) {
	rows := testRows(testSchema(), 3)
	bp := engine.Breakpoint{
		Condition: "n == 1",
		Matches: func(tp *tuple.Tuple) bool {
			n, _ := tp.IntField("n")
			return n == 1
		},
	}
	p, reports := startSink(t, rows, Config{Breakpoints: []engine.Breakpoint{bp}})

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fault := awaitReport[engine.BreakpointReport](t, reports)
	if len(fault.Fault.Faults) != 1 || fault.Fault.Faults[0] != "n == 1" {
		t.Errorf("unexpected fault descriptions: %v", fault.Fault.Faults)
	}
	if n, _ := fault.Fault.Tuple.IntField("n"); n != 1 {
		t.Errorf("faulted tuple = %v, want n == 1", fault.Fault.Tuple)
	}

	if err := p.Send(SkipTuple{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.SkipAck](t, reports)

	done := awaitReport[engine.CompletionReport](t, reports)
	if len(done.Results) != 2 {
		t.Fatalf("got %d results, want 2 (faulted tuple skipped)", len(done.Results))
	}
	for _, tp := range done.Results {
		if n, _ := tp.IntField("n"); n == 1 {
			t.Error("skipped tuple must not be materialized")
		}
	}
}

func TestSwapLogicContinuesPastBreakpoint(t *testing.T) {
	s := testSchema()
	src := operator.NewSliceSource(s, testRows(s, 2))
	filter := operator.NewFilter(src, func(*tuple.Tuple) (bool, error) { return true, nil })

	reports := make(chan engine.Report, 64)
	bp := engine.Breakpoint{
		Condition: "n == 0",
		Matches: func(tp *tuple.Tuple) bool {
			n, _ := tp.IntField("n")
			return n == 0
		},
	}
	p, err := New(engine.NewIdentity("filter"), filter, Config{
		Reports:     reports,
		Breakpoints: []engine.Breakpoint{bp},
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	defer func() { _ = p.Send(Terminate{}) }()

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.BreakpointReport](t, reports)

	if err := p.Send(SwapLogic{Logic: func(*tuple.Tuple) (bool, error) { return true, nil }}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.LogicSwapped](t, reports)

	// held tuple is forwarded under the new logic, then the rest flows
	done := awaitReport[engine.CompletionReport](t, reports)
	if len(done.Results) != 2 {
		t.Errorf("got %d results, want 2 (held tuple forwarded)", len(done.Results))
	}
}

func TestSwapLogicDropsRejectedHeldTuple(t *testing.T) {
	s := testSchema()
	src := operator.NewSliceSource(s, testRows(s, 2))
	filter := operator.NewFilter(src, func(*tuple.Tuple) (bool, error) { return true, nil })

	reports := make(chan engine.Report, 64)
	bp := engine.Breakpoint{
		Condition: "n == 0",
		Matches: func(tp *tuple.Tuple) bool {
			n, _ := tp.IntField("n")
			return n == 0
		},
	}
	p, err := New(engine.NewIdentity("filter"), filter, Config{
		Reports:     reports,
		Breakpoints: []engine.Breakpoint{bp},
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	defer func() { _ = p.Send(Terminate{}) }()

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.BreakpointReport](t, reports)

	// the swapped predicate rejects the held tuple, so it must be dropped
	// rather than forwarded past the logic that now excludes it
	if err := p.Send(SwapLogic{Logic: func(tp *tuple.Tuple) (bool, error) {
		n, _ := tp.IntField("n")
		return n != 0, nil
	}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.LogicSwapped](t, reports)

	done := awaitReport[engine.CompletionReport](t, reports)
	if len(done.Results) != 1 {
		t.Fatalf("got %d results, want 1 (held tuple dropped)", len(done.Results))
	}
	if n, _ := done.Results[0].IntField("n"); n != 1 {
		t.Errorf("surviving tuple = %v, want n == 1", done.Results[0])
	}
}

func TestQueryState(t *testing.T) {
	p, reports := startSink(t, testRows(testSchema(), 2), Config{})

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.CompletionReport](t, reports)

	if err := p.Send(QueryState{Name: "produced"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := awaitReport[engine.StateResult](t, reports)
	if !res.Known || res.Value != "2" {
		t.Errorf("produced = %q/%v, want 2/true", res.Value, res.Known)
	}

	if err := p.Send(QueryState{Name: "no-such-variable"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res = awaitReport[engine.StateResult](t, reports)
	if res.Known {
		t.Error("unknown variable must report Known=false")
	}
}

func TestStartFailureIsReported(t *testing.T) {
	s := testSchema()
	src := operator.NewSliceSource(s, nil)
	// projecting a missing attribute fails at open
	proj := operator.NewProject(src, "absent")

	reports := make(chan engine.Report, 16)
	p, err := New(engine.NewIdentity("project"), proj, Config{Reports: reports, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	defer func() { _ = p.Send(Terminate{}) }()

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failure := awaitReport[engine.FailureReport](t, reports)
	if !gferrors.IsConfiguration(failure.Err) {
		t.Errorf("got %v, want configuration error", failure.Err)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	p, _ := startSink(t, testRows(testSchema(), 1), Config{})

	if err := p.Send(Terminate{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(testTimeout):
		t.Fatal("principal did not stop")
	}

	// further sends fail cleanly instead of blocking
	if err := p.Send(Terminate{}); !errors.Is(err, gferrors.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestInstallBreakpointAtRuntime(t *testing.T) {
	s := testSchema()
	ch := make(chan *tuple.Tuple, 4)
	reports := make(chan engine.Report, 64)
	src := operator.NewChannelSource(s, ch)
	p, err := New(engine.NewIdentity("stage"), src, Config{Reports: reports, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	go p.Run()
	defer func() { _ = p.Send(Terminate{}) }()

	if err := p.Send(Start{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Send(InstallBreakpoint{Breakpoint: engine.Breakpoint{
		Condition: "any",
		Matches:   func(*tuple.Tuple) bool { return true },
	}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// commands are processed in send order, so a query round-trip
	// guarantees the breakpoint is installed before the tuple arrives
	if err := p.Send(QueryState{Name: "state"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	awaitReport[engine.StateResult](t, reports)

	ch <- tuple.MustNew(s, "a", 0)
	fault := awaitReport[engine.BreakpointReport](t, reports)
	if fault.Fault.Faults[0] != "any" {
		t.Errorf("unexpected fault: %v", fault.Fault.Faults)
	}
}
