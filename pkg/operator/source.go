package operator

import (
	"context"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// SliceSource emits a fixed slice of tuples. Partition lets several
// parallel instances of one logical source split the slice by stride:
// instance i of n emits rows i, i+n, i+2n, ...
type SliceSource struct {
	cursor
	schema *schema.Schema
	rows   []*tuple.Tuple
	index  int
	stride int
}

// NewSliceSource creates a source over the given tuples. Every tuple must
// conform to s.
func NewSliceSource(s *schema.Schema, rows []*tuple.Tuple) *SliceSource {
	return &SliceSource{schema: s, rows: rows, stride: 1}
}

// Partition restricts the source to rows instance, instance+total,
// instance+2*total, ... so that parallel instances cover disjoint subsets.
func (s *SliceSource) Partition(instance, total int) *SliceSource {
	s.index = instance
	s.stride = total
	return s
}

// Open implements Operator. A source has no upstream.
func (s *SliceSource) Open(_ context.Context) error {
	if s.schema == nil {
		return gferrors.NewConfigurationError("source", "schema", nil, "cannot be nil")
	}
	s.open()
	return nil
}

// Next implements Operator.
func (s *SliceSource) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !s.isOpened() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.index >= len(s.rows) {
		return nil, nil
	}
	t := s.rows[s.index]
	s.index += s.stride
	return t, nil
}

// Close implements Operator.
func (s *SliceSource) Close() error {
	s.close()
	return nil
}

// OutputSchema implements Operator.
func (s *SliceSource) OutputSchema() *schema.Schema {
	return s.schema
}

// ChannelSource emits tuples received from a channel until it is closed.
type ChannelSource struct {
	cursor
	schema *schema.Schema
	ch     <-chan *tuple.Tuple
}

// NewChannelSource creates a source draining the given channel.
func NewChannelSource(s *schema.Schema, ch <-chan *tuple.Tuple) *ChannelSource {
	return &ChannelSource{schema: s, ch: ch}
}

// Open implements Operator.
func (s *ChannelSource) Open(_ context.Context) error {
	if s.schema == nil {
		return gferrors.NewConfigurationError("source", "schema", nil, "cannot be nil")
	}
	if s.ch == nil {
		return gferrors.NewConfigurationError("source", "channel", nil, "cannot be nil")
	}
	s.open()
	return nil
}

// Next implements Operator. It blocks until a tuple arrives, the channel is
// closed, or the context is canceled.
func (s *ChannelSource) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !s.isOpened() {
		return nil, nil
	}
	select {
	case t, ok := <-s.ch:
		if !ok {
			return nil, nil
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Operator.
func (s *ChannelSource) Close() error {
	s.close()
	return nil
}

// OutputSchema implements Operator.
func (s *ChannelSource) OutputSchema() *schema.Schema {
	return s.schema
}
