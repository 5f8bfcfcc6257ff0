package benchmark

import (
	"context"
	"strconv"
	"testing"

	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/operator/bridge"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

func benchRows(n int) (*schema.Schema, []*tuple.Tuple) {
	s := schema.MustNew(schema.Attribute{Name: "word", Type: schema.TypeText})
	rows := make([]*tuple.Tuple, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, tuple.MustNew(s, "payload-"+strconv.Itoa(i)))
	}
	return s, rows
}

// BenchmarkFilterPull measures the pull path through a filter chain.
func BenchmarkFilterPull(b *testing.B) {
	s, rows := benchRows(1024)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		op := operator.NewFilter(operator.NewSliceSource(s, rows),
			func(*tuple.Tuple) (bool, error) { return true, nil })
		if err := op.Open(ctx); err != nil {
			b.Fatal(err)
		}
		for {
			t, err := op.Next(ctx)
			if err != nil {
				b.Fatal(err)
			}
			if t == nil {
				break
			}
		}
		_ = op.Close()
	}
}

// BenchmarkBridgeBatchSizes measures batched delegation at several batch
// sizes.
func BenchmarkBridgeBatchSizes(b *testing.B) {
	s, rows := benchRows(1024)
	ctx := context.Background()

	for _, batch := range []int{1, 16, 256} {
		b.Run("batch-"+strconv.Itoa(batch), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				op := bridge.New(operator.NewSliceSource(s, rows), bridge.Config{
					InputAttribute:  "word",
					ResultAttribute: "score",
					BatchSize:       batch,
					ChunkSize:       batch,
					Client: bridge.NewInProcessClient(func(v interface{}) (interface{}, error) {
						return len(v.(string)), nil
					}),
				})
				if err := op.Open(ctx); err != nil {
					b.Fatal(err)
				}
				for {
					t, err := op.Next(ctx)
					if err != nil {
						b.Fatal(err)
					}
					if t == nil {
						break
					}
				}
				_ = op.Close()
			}
		})
	}
}
