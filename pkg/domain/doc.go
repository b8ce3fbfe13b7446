// Package domain holds the orchestration data model.
//
// Workflow revisions and task templates are read-only inputs. Tasks are the
// transient, per-run view of a revision; runs and execution records are the
// persisted outcome of planning.
package domain
