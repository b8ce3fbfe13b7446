package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
)

// Store implements every storage port using in-memory maps.
// This is for testing and local development.
type Store struct {
	revisions map[string]*domain.WorkflowRevision
	templates map[string]*domain.TaskTemplate
	runs      map[string]*domain.Run
	records   map[string][]*domain.ExecutionRecord // by run id
	mu        sync.RWMutex
}

var (
	_ ports.RevisionSource       = (*Store)(nil)
	_ ports.TemplateSource       = (*Store)(nil)
	_ ports.RunStore             = (*Store)(nil)
	_ ports.ExecutionRecordStore = (*Store)(nil)
)

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		revisions: make(map[string]*domain.WorkflowRevision),
		templates: make(map[string]*domain.TaskTemplate),
		runs:      make(map[string]*domain.Run),
		records:   make(map[string][]*domain.ExecutionRecord),
	}
}

// SaveWorkflowRevision sets the revision returned for its workflow
func (s *Store) SaveWorkflowRevision(ctx context.Context, rev *domain.WorkflowRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	revCopy := *rev
	s.revisions[rev.WorkflowID] = &revCopy
	return nil
}

// GetWorkflowRevision returns the current revision of a workflow
func (s *Store) GetWorkflowRevision(ctx context.Context, workflowID string) (*domain.WorkflowRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rev, ok := s.revisions[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow revision %s: %w", workflowID, domain.ErrNotFound)
	}

	revCopy := *rev
	return &revCopy, nil
}

// SaveTaskTemplate stores a task template
func (s *Store) SaveTaskTemplate(ctx context.Context, tmpl *domain.TaskTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmplCopy := *tmpl
	s.templates[tmpl.ID] = &tmplCopy
	return nil
}

// GetTaskTemplate returns a task template
func (s *Store) GetTaskTemplate(ctx context.Context, templateID string) (*domain.TaskTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("task template %s: %w", templateID, domain.ErrNotFound)
	}

	tmplCopy := *tmpl
	return &tmplCopy, nil
}

// SaveRun creates or replaces a run
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy to avoid mutations
	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// GetRun returns a run
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}

	runCopy := *run
	return &runCopy, nil
}

// CreateExecutionRecord stores a new execution record with a generated id
func (s *Store) CreateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	recCopy.ID = uuid.NewString()
	s.records[rec.RunID] = append(s.records[rec.RunID], &recCopy)

	out := recCopy
	return &out, nil
}

// UpdateExecutionRecord replaces an existing execution record
func (s *Store) UpdateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.records[rec.RunID] {
		if existing.ID == rec.ID {
			recCopy := *rec
			s.records[rec.RunID][i] = &recCopy
			return nil
		}
	}
	return fmt.Errorf("execution record %s: %w", rec.ID, domain.ErrNotFound)
}

// ListExecutionRecords returns the records of a run sorted by order
func (s *Store) ListExecutionRecords(ctx context.Context, runID string) ([]*domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*domain.ExecutionRecord, 0, len(s.records[runID]))
	for _, rec := range s.records[runID] {
		recCopy := *rec
		records = append(records, &recCopy)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Order < records[j].Order
	})

	return records, nil
}

// ListRuns returns the ids of all stored runs
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}
