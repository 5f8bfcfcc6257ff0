// Package workflow describes the finalized stage graph a controller
// executes: logical stages with their operator builders and parallelism,
// connected by pull edges. The graph arrives already validated by its
// producer (an editor or a test harness); this package checks structural
// invariants only.
package workflow

import (
	"fmt"

	gferrors "github.com/vnykmshr/tupleflow/pkg/common/errors"
	"github.com/vnykmshr/tupleflow/pkg/engine"
	"github.com/vnykmshr/tupleflow/pkg/operator"
	"github.com/vnykmshr/tupleflow/pkg/operator/bridge"
	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// BuildFunc constructs the operator for one parallel instance of a logical
// stage. Instance i of total receives the upstream operator for its edge,
// or nil for a source stage. Builders must partition source data so that
// parallel instances cover disjoint subsets.
type BuildFunc func(instance, total int, upstream operator.Operator) (operator.Operator, error)

// Stage is one logical stage of the graph, realized at run time by
// Parallelism principal instances.
type Stage struct {
	ID          engine.StageID
	Parallelism int
	Build       BuildFunc
}

// Edge is a producer-to-consumer pull link between two logical stages.
type Edge struct {
	From engine.StageID
	To   engine.StageID
}

// Workflow is a validated stage graph. Stages form disjoint chains: every
// stage has at most one upstream and at most one downstream.
type Workflow struct {
	stages     []Stage
	order      []engine.StageID
	byID       map[engine.StageID]int
	upstream   map[engine.StageID]engine.StageID
	downstream map[engine.StageID]engine.StageID
}

// New validates the graph and fixes the execution order.
func New(stages []Stage, edges []Edge) (*Workflow, error) {
	if len(stages) == 0 {
		return nil, gferrors.NewConfigurationError("workflow", "stages", nil, "cannot be empty")
	}

	w := &Workflow{
		stages:     make([]Stage, len(stages)),
		byID:       make(map[engine.StageID]int, len(stages)),
		upstream:   make(map[engine.StageID]engine.StageID, len(edges)),
		downstream: make(map[engine.StageID]engine.StageID, len(edges)),
	}
	copy(w.stages, stages)

	for i := range w.stages {
		s := &w.stages[i]
		if s.ID == "" {
			return nil, gferrors.NewConfigurationError("workflow", "stage", i, "must have an identifier")
		}
		if _, dup := w.byID[s.ID]; dup {
			return nil, gferrors.NewConfigurationError("workflow", "stage", s.ID, "is defined twice")
		}
		if s.Build == nil {
			return nil, gferrors.NewConfigurationError("workflow", "stage", s.ID, "has no builder")
		}
		if s.Parallelism <= 0 {
			s.Parallelism = 1
		}
		w.byID[s.ID] = i
	}

	for _, e := range edges {
		if _, ok := w.byID[e.From]; !ok {
			return nil, gferrors.NewConfigurationError("workflow", "edge", e.From, "references an unknown stage")
		}
		if _, ok := w.byID[e.To]; !ok {
			return nil, gferrors.NewConfigurationError("workflow", "edge", e.To, "references an unknown stage")
		}
		if _, dup := w.upstream[e.To]; dup {
			return nil, gferrors.NewConfigurationError("workflow", "stage", e.To, "has more than one upstream")
		}
		if _, dup := w.downstream[e.From]; dup {
			return nil, gferrors.NewConfigurationError("workflow", "stage", e.From, "has more than one downstream")
		}
		w.upstream[e.To] = e.From
		w.downstream[e.From] = e.To
	}

	// walk each chain from its source; anything unvisited is part of a cycle
	visited := make(map[engine.StageID]bool, len(stages))
	for _, s := range w.stages {
		if _, hasUpstream := w.upstream[s.ID]; hasUpstream {
			continue
		}
		for id, ok := s.ID, true; ok; id, ok = w.downstream[id] {
			if visited[id] {
				break
			}
			visited[id] = true
			w.order = append(w.order, id)
		}
	}
	if len(w.order) != len(w.stages) {
		return nil, gferrors.NewConfigurationError("workflow", "edges", nil, "contain a cycle")
	}

	return w, nil
}

// Stages returns the stages in execution order (producers first).
func (w *Workflow) Stages() []Stage {
	out := make([]Stage, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.stages[w.byID[id]])
	}
	return out
}

// Stage returns the named stage.
func (w *Workflow) Stage(id engine.StageID) (Stage, bool) {
	i, ok := w.byID[id]
	if !ok {
		return Stage{}, false
	}
	return w.stages[i], true
}

// Upstream returns the producer feeding the given stage, if any.
func (w *Workflow) Upstream(id engine.StageID) (engine.StageID, bool) {
	from, ok := w.upstream[id]
	return from, ok
}

// Downstream returns the consumer fed by the given stage, if any.
func (w *Workflow) Downstream(id engine.StageID) (engine.StageID, bool) {
	to, ok := w.downstream[id]
	return to, ok
}

// Sinks returns the stages without a downstream, in execution order.
func (w *Workflow) Sinks() []engine.StageID {
	var out []engine.StageID
	for _, id := range w.order {
		if _, ok := w.downstream[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// SliceSourceStage creates a source stage over fixed rows. Parallel
// instances split the rows by stride.
func SliceSourceStage(id engine.StageID, s *schema.Schema, rows []*tuple.Tuple) Stage {
	return Stage{
		ID: id,
		Build: func(instance, total int, upstream operator.Operator) (operator.Operator, error) {
			if upstream != nil {
				return nil, gferrors.NewConfigurationError("workflow", "stage", id, "is a source and accepts no upstream")
			}
			return operator.NewSliceSource(s, rows).Partition(instance, total), nil
		},
	}
}

// FilterStage creates a stage dropping tuples that fail the predicate.
func FilterStage(id engine.StageID, predicate operator.Predicate) Stage {
	return Stage{
		ID: id,
		Build: func(_, _ int, upstream operator.Operator) (operator.Operator, error) {
			return operator.NewFilter(upstream, predicate), nil
		},
	}
}

// ProjectStage creates a stage narrowing tuples to the named attributes.
func ProjectStage(id engine.StageID, names ...string) Stage {
	return Stage{
		ID: id,
		Build: func(_, _ int, upstream operator.Operator) (operator.Operator, error) {
			return operator.NewProject(upstream, names...), nil
		},
	}
}

// BridgeStage creates a batch-bridge stage. Every instance gets its own
// compute client from the factory.
func BridgeStage(id engine.StageID, cfg bridge.Config, clients func() bridge.ComputeClient) Stage {
	return Stage{
		ID: id,
		Build: func(_, _ int, upstream operator.Operator) (operator.Operator, error) {
			instanceCfg := cfg
			if instanceCfg.Name == "" {
				instanceCfg.Name = string(id)
			}
			if clients != nil {
				instanceCfg.Client = clients()
			}
			return bridge.New(upstream, instanceCfg), nil
		},
	}
}

// PassthroughStage creates a stage forwarding tuples unchanged. Typical as
// the sink of a chain whose last transform already produced the final
// shape.
func PassthroughStage(id engine.StageID) Stage {
	return Stage{
		ID: id,
		Build: func(_, _ int, upstream operator.Operator) (operator.Operator, error) {
			if upstream == nil {
				return nil, fmt.Errorf("stage %s: %w", id, gferrors.ErrNoUpstream)
			}
			return upstream, nil
		},
	}
}
