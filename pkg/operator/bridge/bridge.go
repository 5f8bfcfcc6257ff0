package bridge

import (
	"context"
	"fmt"
	"time"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/common/validation"
	"github.com/vnykmshr/tupleflow/pkg/metrics"
	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

const (
	defaultConnectAttempts = 8
	defaultConnectBackoff  = 50 * time.Millisecond
	defaultMaxBackoff      = 2 * time.Second
)

// Config holds configuration for a batch-bridge operator.
type Config struct {
	// Name identifies the stage in errors and logs. Defaults to "bridge".
	Name string

	// InputAttribute is the attribute read from each tuple and shipped to
	// the compute service. It must exist upstream with type string or text.
	InputAttribute string

	// ResultAttribute is the attribute appended to each tuple. It must not
	// already exist upstream.
	ResultAttribute string

	// ResultType is the attribute type of the produced field. TypeString
	// is the zero value and stands for "unset", which selects TypeInteger;
	// string-valued results must be declared as TypeText.
	ResultType schema.AttributeType

	// BatchSize is the maximum number of tuples pulled per batch.
	BatchSize int

	// ChunkSize is the number of values per outbound transfer chunk.
	ChunkSize int

	// Client talks to the external compute service.
	Client ComputeClient

	// ConnectAttempts bounds the open-time healthcheck retries.
	// Defaults to 8; exhaustion is fatal to the stage.
	ConnectAttempts int

	// ConnectBackoff is the initial retry delay, doubled per attempt.
	// Defaults to 50ms.
	ConnectBackoff time.Duration

	// MaxBackoff caps the retry delay. Defaults to 2s.
	MaxBackoff time.Duration

	// Metrics receives batch instrumentation. Nil selects
	// metrics.DefaultRegistry.
	Metrics *metrics.Registry
}

// Bridge is the batch-bridge operator. On Next it refills an internal
// buffer of up to BatchSize tuples, submits the whole batch to the compute
// service, blocks until every result arrived, and then pops buffered
// tuples one per call, appending produced values in strict FIFO order:
// the Nth tuple removed from the buffer receives the Nth produced value.
type Bridge struct {
	upstream operator.Operator
	cfg      Config
	out      *schema.Schema

	opened  bool
	buffer  []*tuple.Tuple
	results []interface{}

	batches   int64
	submitted int64
}

// New creates a batch-bridge operator over the upstream.
func New(upstream operator.Operator, cfg Config) *Bridge {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultRegistry
	}
	return &Bridge{upstream: upstream, cfg: cfg}
}

func (b *Bridge) validate() error {
	if err := validation.ValidateNotEmpty("bridge", "inputAttribute", b.cfg.InputAttribute); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty("bridge", "resultAttribute", b.cfg.ResultAttribute); err != nil {
		return err
	}
	if err := validation.ValidatePositive("bridge", "batchSize", b.cfg.BatchSize); err != nil {
		return err
	}
	if err := validation.ValidatePositive("bridge", "chunkSize", b.cfg.ChunkSize); err != nil {
		return err
	}
	if b.cfg.Client == nil {
		return gferrors.NewConfigurationError("bridge", "client", nil, "cannot be nil")
	}
	if b.upstream == nil {
		return gferrors.ErrNoUpstream
	}
	return nil
}

// Open implements operator.Operator. It establishes the compute service
// connection with bounded exponential backoff, opens the upstream, and
// derives the output schema. An unreachable service after the retry budget
// is a stage-fatal error.
func (b *Bridge) Open(ctx context.Context) error {
	if b.opened {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}
	if err := b.connect(ctx); err != nil {
		return err
	}
	if err := b.upstream.Open(ctx); err != nil {
		return err
	}

	out, err := b.transformSchema(b.upstream.OutputSchema())
	if err != nil {
		_ = b.upstream.Close()
		return err
	}
	b.out = out
	b.opened = true
	return nil
}

// connect retries the healthcheck until success or the attempt budget is
// exhausted.
func (b *Bridge) connect(ctx context.Context) error {
	attempts := b.cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	backoff := b.cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = defaultConnectBackoff
	}
	maxBackoff := b.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		if lastErr = b.cfg.Client.Healthcheck(ctx); lastErr == nil {
			return nil
		}
	}
	return gferrors.NewStageError(b.stageName(), "compute service unreachable after retries",
		fmt.Errorf("%w: %v", gferrors.ErrServiceUnavailable, lastErr))
}

// transformSchema appends the result attribute, validating that the input
// attribute exists with a string kind and the result attribute is fresh.
func (b *Bridge) transformSchema(in *schema.Schema) (*schema.Schema, error) {
	if err := schema.CheckAttributeExists(in, b.cfg.InputAttribute); err != nil {
		return nil, err
	}
	attr, _ := in.AttributeByName(b.cfg.InputAttribute)
	if attr.Type != schema.TypeString && attr.Type != schema.TypeText {
		return nil, gferrors.NewConfigurationError("bridge", "inputAttribute", b.cfg.InputAttribute,
			fmt.Sprintf("must have type string or text, its actual type is %s", attr.Type))
	}
	if err := schema.CheckAttributeNotExists(in, b.cfg.ResultAttribute); err != nil {
		return nil, err
	}
	return schema.Derive(in, schema.Attribute{Name: b.cfg.ResultAttribute, Type: b.resultType()})
}

// Next implements operator.Operator.
func (b *Bridge) Next(ctx context.Context) (*tuple.Tuple, error) {
	if !b.opened {
		return nil, nil
	}
	if len(b.buffer) == 0 {
		filled, err := b.fillBuffer(ctx)
		if err != nil {
			return nil, err
		}
		if !filled {
			return nil, nil
		}
		// A batch is atomic once submission starts: the caller's
		// cancellation must not tear it, or tuples would be dropped or
		// resubmitted on retry.
		if err := b.computeBatch(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
	}
	return b.popOne()
}

// fillBuffer pulls up to BatchSize tuples from the upstream, stopping early
// on exhaustion. It reports whether anything was buffered.
func (b *Bridge) fillBuffer(ctx context.Context) (bool, error) {
	for len(b.buffer) < b.cfg.BatchSize {
		t, err := b.upstream.Next(ctx)
		if err != nil {
			return false, err
		}
		if t == nil {
			break
		}
		b.buffer = append(b.buffer, t)
	}
	return len(b.buffer) > 0, nil
}

// computeBatch ships the buffered tuples as one logical request, chunked to
// ChunkSize, and blocks until every result arrived. A short result set is
// fatal since order preservation could no longer be guaranteed.
func (b *Bridge) computeBatch(ctx context.Context) error {
	start := time.Now()
	contract := OutputContract{
		Attribute: schema.Attribute{Name: b.cfg.ResultAttribute, Type: b.resultType()},
	}
	if err := b.cfg.Client.OpenBatch(ctx, contract); err != nil {
		return b.fatal("open batch", err)
	}

	seq := 0
	for start := 0; start < len(b.buffer); start += b.cfg.ChunkSize {
		end := start + b.cfg.ChunkSize
		if end > len(b.buffer) {
			end = len(b.buffer)
		}
		values := make([]interface{}, 0, end-start)
		for _, t := range b.buffer[start:end] {
			v, err := t.StringField(b.cfg.InputAttribute)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		if err := b.cfg.Client.PutChunk(ctx, Chunk{Seq: seq, Values: values}); err != nil {
			return b.fatal("put chunk", err)
		}
		seq++
	}
	if err := b.cfg.Client.CompleteBatch(ctx); err != nil {
		return b.fatal("complete batch", err)
	}
	if err := b.cfg.Client.Compute(ctx); err != nil {
		return b.fatal("compute", err)
	}

	chunks, err := b.cfg.Client.Results(ctx)
	if err != nil {
		return b.fatal("read results", err)
	}
	b.results = b.results[:0]
	for _, chunk := range chunks {
		b.results = append(b.results, chunk.Values...)
	}
	if len(b.results) != len(b.buffer) {
		return b.fatal("result count mismatch",
			fmt.Errorf("submitted %d values, received %d", len(b.buffer), len(b.results)))
	}

	b.batches++
	b.submitted += int64(len(b.buffer))
	b.cfg.Metrics.BatchesSubmitted.WithLabelValues(b.stageName()).Inc()
	b.cfg.Metrics.BatchDuration.WithLabelValues(b.stageName()).Observe(time.Since(start).Seconds())
	return nil
}

// popOne removes the oldest buffered tuple and pairs it with the oldest
// pending result.
func (b *Bridge) popOne() (*tuple.Tuple, error) {
	t := b.buffer[0]
	b.buffer = b.buffer[1:]
	result := b.results[0]
	b.results = b.results[1:]
	return t.Extend(b.out, result)
}

// Close implements operator.Operator. It shuts the compute service down and
// closes the upstream.
func (b *Bridge) Close() error {
	if !b.opened {
		return nil
	}
	b.opened = false

	err := b.cfg.Client.Shutdown(context.Background())
	if b.upstream != nil {
		if cerr := b.upstream.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// OutputSchema implements operator.Operator.
func (b *Bridge) OutputSchema() *schema.Schema {
	return b.out
}

// InternalState implements operator.Inspectable.
func (b *Bridge) InternalState(name string) (string, bool) {
	switch name {
	case "buffered":
		return fmt.Sprintf("%d", len(b.buffer)), true
	case "batches":
		return fmt.Sprintf("%d", b.batches), true
	case "submitted":
		return fmt.Sprintf("%d", b.submitted), true
	default:
		return "", false
	}
}

// resultType maps the unset zero value (TypeString) to TypeInteger.
func (b *Bridge) resultType() schema.AttributeType {
	if b.cfg.ResultType == schema.TypeString {
		return schema.TypeInteger
	}
	return b.cfg.ResultType
}

func (b *Bridge) stageName() string {
	if b.cfg.Name != "" {
		return b.cfg.Name
	}
	return "bridge"
}

func (b *Bridge) fatal(reason string, err error) error {
	return gferrors.NewStageError(b.stageName(), reason, err)
}
