package controller

import (
	"context"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// edgeSource adapts the receiving end of an inter-principal channel into
// an operator. The upstream stage's output schema is not known until its
// principals open, so Open blocks until the controller forwards it. A nil
// schema on the channel means the upstream failed to start.
type edgeSource struct {
	from     string
	ch       <-chan *tuple.Tuple
	schemaCh <-chan *schema.Schema
	schema   *schema.Schema
	opened   bool
}

func newEdgeSource(from string, ch <-chan *tuple.Tuple, schemaCh <-chan *schema.Schema) *edgeSource {
	return &edgeSource{from: from, ch: ch, schemaCh: schemaCh}
}

func (e *edgeSource) Open(ctx context.Context) error {
	if e.opened {
		return nil
	}
	select {
	case s := <-e.schemaCh:
		if s == nil {
			return gferrors.NewStageError(e.from, "upstream stage failed to start", gferrors.ErrNoUpstream)
		}
		e.schema = s
		e.opened = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *edgeSource) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !e.opened {
		return nil, nil
	}
	select {
	case t, ok := <-e.ch:
		if !ok {
			return nil, nil
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *edgeSource) Close() error {
	e.opened = false
	return nil
}

func (e *edgeSource) OutputSchema() *schema.Schema {
	return e.schema
}
