// Package operator defines the pull-iterator contract shared by every
// dataflow stage, together with basic sources, transforms, and the
// collecting sink.
//
// An operator moves through CLOSED -> OPENED -> CLOSED. Open binds to the
// upstream recursively and computes the output schema; Next produces one
// tuple per call until exhaustion; Close releases resources and closes the
// upstream. Open and Close are idempotent, and Next on a closed operator
// reports exhaustion instead of failing.
package operator

import (
	"context"
	"sync/atomic"

	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// Operator is one node of the dataflow graph: a pull-based transform from
// input tuples to output tuples with a schema contract.
type Operator interface {
	// Open binds the operator to its upstream (opening it first), computes
	// the output schema, and acquires resources. Opening an opened operator
	// is a no-op.
	Open(ctx context.Context) error

	// Next returns the next tuple, or (nil, nil) once the operator is
	// exhausted. Calling Next on a closed operator returns (nil, nil).
	Next(ctx context.Context) (*tuple.Tuple, error)

	// Close releases resources and closes the upstream recursively.
	// Closing a closed operator is a no-op.
	Close() error

	// OutputSchema returns the schema of produced tuples. Valid only after
	// a successful Open.
	OutputSchema() *schema.Schema
}

// Mutable is implemented by operators whose processing logic can be swapped
// while the workflow is running.
type Mutable interface {
	// SwapLogic replaces the operator's predicate or transform function.
	// The concrete function type is operator-specific; a mismatch is a
	// configuration error.
	SwapLogic(logic interface{}) error
}

// Reevaluator is implemented by mutable operators that can apply their
// current logic to a single tuple outside the pull loop. The engine uses
// it after a logic swap to decide whether a tuple halted at a breakpoint
// still belongs in the stream.
type Reevaluator interface {
	// Reevaluate runs the operator's current logic against t and returns
	// the resulting tuple, or nil when the logic drops it.
	Reevaluate(t *tuple.Tuple) (*tuple.Tuple, error)
}

// Inspectable is implemented by operators that expose named internal
// variables for live debugging.
type Inspectable interface {
	// InternalState returns the current string representation of the named
	// variable, or false if the operator does not track it.
	InternalState(name string) (string, bool)
}

// cursor tracks the CLOSED/OPENED state machine shared by all operators.
type cursor struct {
	opened int32
}

// open transitions CLOSED -> OPENED and reports whether the transition
// happened (false means the operator was already opened).
func (c *cursor) open() bool {
	return atomic.CompareAndSwapInt32(&c.opened, 0, 1)
}

// close transitions OPENED -> CLOSED and reports whether the transition
// happened.
func (c *cursor) close() bool {
	return atomic.CompareAndSwapInt32(&c.opened, 1, 0)
}

func (c *cursor) isOpened() bool {
	return atomic.LoadInt32(&c.opened) == 1
}
