// Package bridge implements the batch-bridge operator: tuples are buffered
// into bounded batches, shipped to an external compute service in
// sequence-tagged chunks, and re-emitted with one produced field per tuple
// in strict submission order.
package bridge

import (
	"context"

	"github.com/vnykmshr/tupleflow/pkg/schema"
)

// OutputContract declares the field the compute service produces for every
// submitted value. It is sent with the batch-open signal.
type OutputContract struct {
	Attribute schema.Attribute
}

// Chunk is a sequence-tagged slice of values. Chunks of one batch carry
// consecutive sequence numbers starting at zero, both outbound and inbound.
type Chunk struct {
	Seq    int
	Values []interface{}
}

// ComputeClient is the request/response boundary to an external compute
// service. Any transport with ordered delivery satisfies it. A protocol
// error from any call is fatal to the stage using the client.
type ComputeClient interface {
	// Healthcheck verifies the service is reachable and ready.
	Healthcheck(ctx context.Context) error

	// OpenBatch starts a new batch and declares the output contract.
	OpenBatch(ctx context.Context, contract OutputContract) error

	// PutChunk transfers one sequence-tagged chunk of input values.
	PutChunk(ctx context.Context, chunk Chunk) error

	// CompleteBatch signals that every chunk of the batch has been sent.
	CompleteBatch(ctx context.Context) error

	// Compute asks the service to process the completed batch.
	Compute(ctx context.Context) error

	// Results returns the produced values as sequence-ordered chunks. The
	// total value count must equal the number of submitted values.
	Results(ctx context.Context) ([]Chunk, error)

	// Shutdown asks the service to terminate and releases the client.
	Shutdown(ctx context.Context) error
}
