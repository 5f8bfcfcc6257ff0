package operator

import (
	"context"
	"fmt"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// Collector is the terminal sink: it forwards tuples unchanged while
// materializing everything that passed through, in arrival order. The
// principal hosting a sink drains it and ships the materialized result to
// the controller on completion.
type Collector struct {
	cursor
	upstream Operator
	out      *schema.Schema
	results  []*tuple.Tuple
}

// NewCollector creates a collecting sink over the upstream.
func NewCollector(upstream Operator) *Collector {
	return &Collector{upstream: upstream}
}

// Open implements Operator.
func (c *Collector) Open(ctx context.Context) error {
	if !c.open() {
		return nil
	}
	if c.upstream == nil {
		c.close()
		return gferrors.ErrNoUpstream
	}
	if err := c.upstream.Open(ctx); err != nil {
		c.close()
		return err
	}
	c.out = c.upstream.OutputSchema()
	return nil
}

// Next implements Operator. Each produced tuple is also appended to the
// materialized result list.
func (c *Collector) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !c.isOpened() {
		return nil, nil
	}
	t, err := c.upstream.Next(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	c.results = append(c.results, t)
	return t, nil
}

// Close implements Operator.
func (c *Collector) Close() error {
	if !c.close() {
		return nil
	}
	if c.upstream != nil {
		return c.upstream.Close()
	}
	return nil
}

// OutputSchema implements Operator.
func (c *Collector) OutputSchema() *schema.Schema {
	return c.out
}

// Results returns the tuples materialized so far, in arrival order.
func (c *Collector) Results() []*tuple.Tuple {
	out := make([]*tuple.Tuple, len(c.results))
	copy(out, c.results)
	return out
}

// InternalState implements Inspectable.
func (c *Collector) InternalState(name string) (string, bool) {
	if name == "collected" {
		return fmt.Sprintf("%d", len(c.results)), true
	}
	return "", false
}
