package bridge

import (
	"context"
	"sort"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
)

// ScoreFunc produces one output value per submitted input value.
type ScoreFunc func(value interface{}) (interface{}, error)

// InProcessClient is a ComputeClient running the scoring function in
// process. It is the reference implementation of the protocol and the
// client used by examples; tests that need scripted failures use the
// testutil variant.
type InProcessClient struct {
	score    ScoreFunc
	pending  []Chunk
	computed []Chunk
	open     bool
	shutdown bool
}

// NewInProcessClient creates a client applying score to every value.
func NewInProcessClient(score ScoreFunc) *InProcessClient {
	return &InProcessClient{score: score}
}

// Healthcheck implements ComputeClient.
func (c *InProcessClient) Healthcheck(_ context.Context) error {
	if c.shutdown {
		return gferrors.ErrServiceUnavailable
	}
	return nil
}

// OpenBatch implements ComputeClient.
func (c *InProcessClient) OpenBatch(_ context.Context, _ OutputContract) error {
	if c.shutdown {
		return gferrors.ErrServiceUnavailable
	}
	c.open = true
	c.pending = nil
	c.computed = nil
	return nil
}

// PutChunk implements ComputeClient.
func (c *InProcessClient) PutChunk(_ context.Context, chunk Chunk) error {
	if !c.open {
		return gferrors.NewStageError("inproc", "put before batch open", nil)
	}
	c.pending = append(c.pending, chunk)
	return nil
}

// CompleteBatch implements ComputeClient.
func (c *InProcessClient) CompleteBatch(_ context.Context) error {
	if !c.open {
		return gferrors.NewStageError("inproc", "complete before batch open", nil)
	}
	c.open = false
	return nil
}

// Compute implements ComputeClient.
func (c *InProcessClient) Compute(_ context.Context) error {
	sort.Slice(c.pending, func(i, j int) bool { return c.pending[i].Seq < c.pending[j].Seq })
	c.computed = make([]Chunk, 0, len(c.pending))
	for _, chunk := range c.pending {
		out := Chunk{Seq: chunk.Seq, Values: make([]interface{}, 0, len(chunk.Values))}
		for _, v := range chunk.Values {
			r, err := c.score(v)
			if err != nil {
				return err
			}
			out.Values = append(out.Values, r)
		}
		c.computed = append(c.computed, out)
	}
	c.pending = nil
	return nil
}

// Results implements ComputeClient.
func (c *InProcessClient) Results(_ context.Context) ([]Chunk, error) {
	return c.computed, nil
}

// Shutdown implements ComputeClient.
func (c *InProcessClient) Shutdown(_ context.Context) error {
	c.shutdown = true
	return nil
}
