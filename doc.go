/*
Package tupleflow provides a Go engine for analytic workflows expressed as a
graph of typed, pull-based dataflow operators executed by concurrent
principals under a single controller.

Data model (pkg/schema, pkg/tuple):
  - schema: immutable ordered attribute sets built via a Builder
  - tuple: immutable typed records conforming to a Schema

Dataflow (pkg/operator):
  - operator: the pull-iterator contract (Open, Next, Close)
  - sources, transforms, and a collecting sink
  - bridge: batched delegation to an external compute service with
    strict order preservation

Engine (pkg/engine):
  - principal: one execution unit per hosted operator instance
  - controller: global start/pause/resume/terminate, statistics
    aggregation, tuple-level breakpoints, live state inspection

Support:
  - storage: account/file metadata reads (Postgres, Redis cache)
  - metrics: Prometheus instrumentation

Example usage:

	import (
		"github.com/vnykmshr/tupleflow/pkg/engine/controller"
		"github.com/vnykmshr/tupleflow/pkg/workflow"
	)

	wf, _ := workflow.New(stages, edges)
	ctl, _ := controller.New(wf, controller.Config{})
	events := ctl.Events()
	ctl.Start()
*/
package tupleflow
