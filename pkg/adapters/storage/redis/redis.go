package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPrefix = "dagrun:"

// Store implements the storage ports using Redis with JSON serialization.
// Runs and execution records expire after the configured TTL; revisions and
// templates are written by their owning services and never expire.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	keys   keys
}

var (
	_ ports.RevisionSource       = (*Store)(nil)
	_ ports.TemplateSource       = (*Store)(nil)
	_ ports.RunStore             = (*Store)(nil)
	_ ports.ExecutionRecordStore = (*Store)(nil)
)

// NewStore creates a new Redis store. An empty prefix selects "dagrun:".
func NewStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
		keys:   newKeys(prefix),
	}
}

// SaveWorkflowRevision sets the revision returned for its workflow
func (s *Store) SaveWorkflowRevision(ctx context.Context, rev *domain.WorkflowRevision) error {
	return s.set(ctx, s.keys.revision(rev.WorkflowID), rev, 0)
}

// GetWorkflowRevision returns the current revision of a workflow
func (s *Store) GetWorkflowRevision(ctx context.Context, workflowID string) (*domain.WorkflowRevision, error) {
	var rev domain.WorkflowRevision
	if err := s.get(ctx, s.keys.revision(workflowID), &rev); err != nil {
		return nil, fmt.Errorf("workflow revision %s: %w", workflowID, err)
	}
	return &rev, nil
}

// SaveTaskTemplate stores a task template
func (s *Store) SaveTaskTemplate(ctx context.Context, tmpl *domain.TaskTemplate) error {
	return s.set(ctx, s.keys.template(tmpl.ID), tmpl, 0)
}

// GetTaskTemplate returns a task template
func (s *Store) GetTaskTemplate(ctx context.Context, templateID string) (*domain.TaskTemplate, error) {
	var tmpl domain.TaskTemplate
	if err := s.get(ctx, s.keys.template(templateID), &tmpl); err != nil {
		return nil, fmt.Errorf("task template %s: %w", templateID, err)
	}
	return &tmpl, nil
}

// SaveRun creates or replaces a run
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	if err := s.set(ctx, s.keys.run(run.ID), run, s.ttl); err != nil {
		return err
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun returns a run
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := s.get(ctx, s.keys.run(runID), &run); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &run, nil
}

// CreateExecutionRecord stores a new execution record and appends it to
// its run's record index in a single transaction
func (s *Store) CreateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	out := *rec
	out.ID = uuid.NewString()

	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution record: %w", err)
	}

	indexKey := s.keys.runRecords(out.RunID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.keys.record(out.ID), data, s.ttl)
		p.RPush(ctx, indexKey, out.ID)
		if s.ttl > 0 {
			p.Expire(ctx, indexKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save execution record: %w", err)
	}

	return &out, nil
}

// ListExecutionRecords returns the records of a run sorted by order
func (s *Store) ListExecutionRecords(ctx context.Context, runID string) ([]*domain.ExecutionRecord, error) {
	ids, err := s.client.LRange(ctx, s.keys.runRecords(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.ExecutionRecord{}, nil
	}

	recordKeys := make([]string, len(ids))
	for i, id := range ids {
		recordKeys[i] = s.keys.record(id)
	}

	values, err := s.client.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution records: %w", err)
	}

	records := make([]*domain.ExecutionRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired between LRANGE and MGET
			s.logger.Debug("execution record missing",
				zap.String("run_id", runID),
				zap.String("record_id", ids[i]))
			continue
		}

		var rec domain.ExecutionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
		}
		records = append(records, &rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Order < records[j].Order
	})

	return records, nil
}

// ListRuns returns the ids of all stored runs
func (s *Store) ListRuns(ctx context.Context) ([]string, error) {
	pattern := s.keys.run("*")

	var cursor uint64
	var ids []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range batch {
			if id, ok := s.keys.runID(key); ok {
				ids = append(ids, id)
			}
		}

		if cursor == 0 {
			break
		}
	}

	sort.Strings(ids)
	return ids, nil
}

func (s *Store) set(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}

	return nil
}

func (s *Store) get(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}

	return nil
}

// keys builds the Redis keys used by the store
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return keys{prefix: prefix}
}

func (k keys) revision(workflowID string) string {
	return fmt.Sprintf("%srevision:%s", k.prefix, workflowID)
}

func (k keys) template(templateID string) string {
	return fmt.Sprintf("%stemplate:%s", k.prefix, templateID)
}

func (k keys) run(runID string) string {
	return fmt.Sprintf("%srun:%s", k.prefix, runID)
}

func (k keys) runRecords(runID string) string {
	return fmt.Sprintf("%srun-records:%s", k.prefix, runID)
}

func (k keys) record(recordID string) string {
	return fmt.Sprintf("%srecord:%s", k.prefix, recordID)
}

// runID extracts the run id from a run key
func (k keys) runID(key string) (string, bool) {
	prefix := k.prefix + "run:"
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return key[len(prefix):], true
}
