// Package workers implements the worker pool that runs dispatched workflow
// runs.
//
// The pool manages a fixed number of goroutines that:
//   - Take submitted jobs from a bounded queue
//   - Execute each job to completion, surviving job panics
//   - Report idle/busy/stopped status
//
// The health monitor tracks worker status, logs it and records metrics.
package workers
