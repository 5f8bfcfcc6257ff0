package operator

import (
	"context"
	"testing"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

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

func drain(t *testing.T, op Operator) []*tuple.Tuple {
	t.Helper()
	var out []*tuple.Tuple
	for {
		tp, err := op.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tp == nil {
			return out
		}
		out = append(out, tp)
	}
}

func TestSliceSource(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 3))

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	out := drain(t, src)
	if len(out) != 3 {
		t.Fatalf("got %d tuples, want 3", len(out))
	}
	for i, tp := range out {
		if tp.Field(1) != i {
			t.Errorf("tuple %d out of order: %v", i, tp)
		}
	}
}

func TestSliceSourcePartition(t *testing.T) {
	s := testSchema()
	rows := testRows(s, 5)

	first := NewSliceSource(s, rows).Partition(0, 2)
	second := NewSliceSource(s, rows).Partition(1, 2)
	for _, src := range []*SliceSource{first, second} {
		if err := src.Open(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	a := drain(t, first)
	b := drain(t, second)
	if len(a) != 3 || len(b) != 2 {
		t.Fatalf("got partitions %d/%d, want 3/2", len(a), len(b))
	}
	if a[1].Field(1) != 2 || b[0].Field(1) != 1 {
		t.Error("partitions must be disjoint strides")
	}
}

func TestOpenCloseIdempotent(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 1))
	sink := NewCollector(NewFilter(src, func(*tuple.Tuple) (bool, error) { return true, nil }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := sink.Open(ctx); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := sink.Open(ctx); err != nil {
			t.Fatalf("double open %d: %v", i, err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("double close %d: %v", i, err)
		}
	}
}

func TestNextAfterCloseReturnsExhausted(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 2))
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tp, err := src.Next(context.Background())
	if err != nil {
		t.Errorf("Next after Close must not fail, got %v", err)
	}
	if tp != nil {
		t.Error("Next after Close must report exhaustion")
	}
}

func TestFilter(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 6))
	f := NewFilter(src, func(tp *tuple.Tuple) (bool, error) {
		n, err := tp.IntField("n")
		return n%2 == 0, err
	})

	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	out := drain(t, f)
	if len(out) != 3 {
		t.Fatalf("got %d tuples, want 3", len(out))
	}
	if v, ok := f.InternalState("examined"); !ok || v != "6" {
		t.Errorf("examined = %q/%v, want 6/true", v, ok)
	}
	if v, _ := f.InternalState("passed"); v != "3" {
		t.Errorf("passed = %q, want 3", v)
	}
}

func TestFilterSwapLogic(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 4))
	f := NewFilter(src, func(*tuple.Tuple) (bool, error) { return false, nil })
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	if err := f.SwapLogic(func(*tuple.Tuple) (bool, error) { return true, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := drain(t, f)
	if len(out) != 4 {
		t.Errorf("got %d tuples after swap, want 4", len(out))
	}

	if err := f.SwapLogic("not a function"); err == nil {
		t.Error("expected error for wrong logic type")
	}
}

func TestFilterReevaluate(t *testing.T) {
	s := testSchema()
	f := NewFilter(NewSliceSource(s, nil), func(tp *tuple.Tuple) (bool, error) {
		n, err := tp.IntField("n")
		return n%2 == 0, err
	})

	keep := tuple.MustNew(s, "keep", 0)
	drop := tuple.MustNew(s, "drop", 1)
	if tp, err := f.Reevaluate(keep); err != nil || tp != keep {
		t.Errorf("got %v/%v, want the tuple back", tp, err)
	}
	if tp, err := f.Reevaluate(drop); err != nil || tp != nil {
		t.Errorf("got %v/%v, want nil/nil for a rejected tuple", tp, err)
	}

	// a swapped predicate takes effect on the next re-evaluation
	if err := f.SwapLogic(func(*tuple.Tuple) (bool, error) { return false, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp, _ := f.Reevaluate(keep); tp != nil {
		t.Error("re-evaluation must use the swapped predicate")
	}
}

func TestFilterWithoutUpstream(t *testing.T) {
	f := NewFilter(nil, func(*tuple.Tuple) (bool, error) { return true, nil })
	if err := f.Open(context.Background()); err == nil {
		t.Fatal("expected error for missing upstream")
	}
	// the failed open must not leave the operator opened
	tp, err := f.Next(context.Background())
	if tp != nil || err != nil {
		t.Errorf("got %v/%v, want nil/nil", tp, err)
	}
}

func TestProject(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 2))
	p := NewProject(src, "n")

	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if p.OutputSchema().Len() != 1 {
		t.Fatalf("got schema len %d, want 1", p.OutputSchema().Len())
	}
	out := drain(t, p)
	if len(out) != 2 || out[1].Field(0) != 1 {
		t.Errorf("unexpected projection output: %v", out)
	}
}

func TestProjectMissingAttribute(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 1))
	p := NewProject(src, "absent")

	err := p.Open(context.Background())
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !gferrors.IsConfiguration(err) {
		t.Errorf("got %v, want configuration error", err)
	}
	// stage never reaches OPENED
	if tp, _ := p.Next(context.Background()); tp != nil {
		t.Error("operator must not produce tuples after failed open")
	}
}

func TestCollector(t *testing.T) {
	s := testSchema()
	src := NewSliceSource(s, testRows(s, 3))
	sink := NewCollector(src)

	if err := sink.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()

	out := drain(t, sink)
	results := sink.Results()
	if len(out) != 3 || len(results) != 3 {
		t.Fatalf("got %d forwarded / %d collected, want 3/3", len(out), len(results))
	}
	for i := range results {
		if results[i] != out[i] {
			t.Errorf("result %d diverges from forwarded tuple", i)
		}
	}
}

func TestChannelSource(t *testing.T) {
	s := testSchema()
	ch := make(chan *tuple.Tuple, 2)
	ch <- tuple.MustNew(s, "a", 0)
	ch <- tuple.MustNew(s, "b", 1)
	close(ch)

	src := NewChannelSource(s, ch)
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	out := drain(t, src)
	if len(out) != 2 {
		t.Fatalf("got %d tuples, want 2", len(out))
	}
}

func TestChannelSourceContextCancel(t *testing.T) {
	s := testSchema()
	src := NewChannelSource(s, make(chan *tuple.Tuple))
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); err == nil {
		t.Error("expected context error")
	}
}
