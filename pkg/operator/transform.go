package operator

import (
	"context"
	"fmt"
	"sync"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// Predicate decides whether a tuple passes a filter.
type Predicate func(*tuple.Tuple) (bool, error)

// Filter forwards tuples matching its predicate. The predicate can be
// swapped at runtime via SwapLogic.
type Filter struct {
	cursor
	upstream Operator
	out      *schema.Schema

	mu        sync.RWMutex
	predicate Predicate

	examined int64
	passed   int64
}

// NewFilter creates a filter over the upstream.
func NewFilter(upstream Operator, predicate Predicate) *Filter {
	return &Filter{upstream: upstream, predicate: predicate}
}

// Open implements Operator. A filter keeps the upstream schema unchanged.
func (f *Filter) Open(ctx context.Context) error {
	if !f.open() {
		return nil
	}
	if f.upstream == nil {
		f.close()
		return gferrors.ErrNoUpstream
	}
	if f.predicate == nil {
		f.close()
		return gferrors.NewConfigurationError("filter", "predicate", nil, "cannot be nil")
	}
	if err := f.upstream.Open(ctx); err != nil {
		f.close()
		return err
	}
	f.out = f.upstream.OutputSchema()
	return nil
}

// Next implements Operator.
func (f *Filter) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !f.isOpened() {
		return nil, nil
	}
	for {
		t, err := f.upstream.Next(ctx)
		if err != nil || t == nil {
			return nil, err
		}
		f.mu.RLock()
		pred := f.predicate
		f.mu.RUnlock()

		f.examined++
		ok, err := pred(t)
		if err != nil {
			return nil, err
		}
		if ok {
			f.passed++
			return t, nil
		}
	}
}

// Close implements Operator.
func (f *Filter) Close() error {
	if !f.close() {
		return nil
	}
	if f.upstream != nil {
		return f.upstream.Close()
	}
	return nil
}

// OutputSchema implements Operator.
func (f *Filter) OutputSchema() *schema.Schema {
	return f.out
}

// SwapLogic implements Mutable. It accepts a Predicate or a compatible
// function value.
func (f *Filter) SwapLogic(logic interface{}) error {
	var pred Predicate
	switch fn := logic.(type) {
	case Predicate:
		pred = fn
	case func(*tuple.Tuple) (bool, error):
		pred = fn
	default:
		return gferrors.NewConfigurationError("filter", "logic", fmt.Sprintf("%T", logic),
			"is not a tuple predicate")
	}
	f.mu.Lock()
	f.predicate = pred
	f.mu.Unlock()
	return nil
}

// Reevaluate implements Reevaluator by running the current predicate
// against t. Counters stay untouched; the tuple was already examined when
// it first passed through.
func (f *Filter) Reevaluate(t *tuple.Tuple) (*tuple.Tuple, error) {
	f.mu.RLock()
	pred := f.predicate
	f.mu.RUnlock()

	ok, err := pred(t)
	if err != nil || !ok {
		return nil, err
	}
	return t, nil
}

// InternalState implements Inspectable.
func (f *Filter) InternalState(name string) (string, bool) {
	switch name {
	case "examined":
		return fmt.Sprintf("%d", f.examined), true
	case "passed":
		return fmt.Sprintf("%d", f.passed), true
	default:
		return "", false
	}
}

// Project narrows tuples to a subset of attributes, in the requested order.
type Project struct {
	cursor
	upstream Operator
	names    []string
	out      *schema.Schema
	indices  []int
}

// NewProject creates a projection keeping only the named attributes.
func NewProject(upstream Operator, names ...string) *Project {
	return &Project{upstream: upstream, names: names}
}

// Open implements Operator. It fails if a requested attribute is absent
// upstream.
func (p *Project) Open(ctx context.Context) error {
	if !p.open() {
		return nil
	}
	if p.upstream == nil {
		p.close()
		return gferrors.ErrNoUpstream
	}
	if len(p.names) == 0 {
		p.close()
		return gferrors.NewConfigurationError("project", "attributes", nil, "cannot be empty")
	}
	if err := p.upstream.Open(ctx); err != nil {
		p.close()
		return err
	}
	in := p.upstream.OutputSchema()

	builder := schema.NewBuilder()
	p.indices = p.indices[:0]
	for _, name := range p.names {
		if err := schema.CheckAttributeExists(in, name); err != nil {
			p.closeUpstream()
			return err
		}
		attr, _ := in.AttributeByName(name)
		i, _ := in.Index(name)
		p.indices = append(p.indices, i)
		builder.AddAttribute(attr.Name, attr.Type)
	}
	out, err := builder.Build()
	if err != nil {
		p.closeUpstream()
		return err
	}
	p.out = out
	return nil
}

func (p *Project) closeUpstream() {
	if p.close() && p.upstream != nil {
		_ = p.upstream.Close()
	}
}

// Next implements Operator.
func (p *Project) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !p.isOpened() {
		return nil, nil
	}
	t, err := p.upstream.Next(ctx)
	if err != nil || t == nil {
		return nil, err
	}
	fields := make([]interface{}, len(p.indices))
	for i, idx := range p.indices {
		fields[i] = t.Field(idx)
	}
	return tuple.New(p.out, fields...)
}

// Close implements Operator.
func (p *Project) Close() error {
	if !p.close() {
		return nil
	}
	if p.upstream != nil {
		return p.upstream.Close()
	}
	return nil
}

// OutputSchema implements Operator.
func (p *Project) OutputSchema() *schema.Schema {
	return p.out
}
