// Package docflow is a checkpointed orchestration engine for multi-stage
// document processing.
//
// A workflow moves a document through classification, extraction, mapping,
// and validation, one agent per stage. After every successful stage the
// confidence router decides whether to advance, advance with a review flag,
// or park the workflow for a human. Every transition is checkpointed before
// the workflow proceeds, so a crashed or preempted run resumes from its last
// stage boundary instead of starting over.
//
// The rollout controller splits traffic between a control and a treatment
// pipeline variant with sticky per-user assignment and automatic rollback,
// and the shadow comparator runs a candidate variant against completed jobs
// without ever touching their primary results.
package docflow
