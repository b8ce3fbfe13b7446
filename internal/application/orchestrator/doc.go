// Package orchestrator implements workflow run planning and dispatch.
//
// A run goes through two phases:
//   - Planning (synchronous): the workflow revision is materialized into a
//     task list, the dependency graph is built and validated, and one
//     execution record per task is persisted in topological order
//   - Dispatch (asynchronous): the plan is handed to the task runner on a
//     worker pool and the returned Dispatch resolves with the outcome
//
// Structural defects are recorded on the run as invalid before any task is
// dispatched. Failures of the asynchronous phase are logged, recorded on the
// run and reported through the Dispatch.
package orchestrator
