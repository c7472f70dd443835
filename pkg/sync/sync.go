// Package sync is the Data Sync Manager (component C12): it keeps the
// primary store and the vector index consistent by appending a
// write-ahead-log record before every mutation, writing both backends,
// and retrying under exponential backoff when either write fails.
// Grounded on the teacher's pkg/memory/jsonl.go append-only WAL-like
// pattern (durable record lifecycle before durable writes) and
// pkg/vecstore/embed.go's exponential-backoff retry shape (500ms, 2s, 8s
// — 500ms*4^attempt), generalized from HTTP-embedding retries to dual-
// store upsert/delete retries.
package sync

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/model"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "sync"

// PrimaryWriter is the primary store's mutation surface. pkg/store.Store
// satisfies this directly.
type PrimaryWriter interface {
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// VectorWriter is the vector index's mutation surface. pkg/vectorindex
// satisfies this.
type VectorWriter interface {
	UpsertPoint(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	DeletePoint(ctx context.Context, collection, id string) error
}

type Config struct {
	MaxRetries       int
	RetryBackoffBase time.Duration
	MaxBatchSize     int
	MaxConcurrentOps int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 500 * time.Millisecond
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.MaxConcurrentOps <= 0 {
		c.MaxConcurrentOps = 8
	}
	return c
}

// SyncResult reports one mutation's outcome.
type SyncResult struct {
	OpID      string
	Committed bool
	Attempts  int
	Err       error
}

// Manager implements the WAL + dual-write protocol from spec §4.11.
type Manager struct {
	cfg     Config
	primary PrimaryWriter
	vector  VectorWriter
	bus     *eventbus.Bus
	limiter *rate.Limiter

	mu  sync.Mutex
	wal map[string]*model.WALRecord
}

func New(cfg Config, primary PrimaryWriter, vector VectorWriter, bus *eventbus.Bus) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		primary: primary,
		vector:  vector,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConcurrentOps), cfg.MaxConcurrentOps),
		wal:     make(map[string]*model.WALRecord),
	}
}

const defaultCollection = "entities"

// Upsert runs the five-step protocol for one entity: append a Pending WAL
// record, write primary, write vector, then mark Committed and publish
// Synced on dual success, or retry with exponential backoff on failure.
func (m *Manager) Upsert(ctx context.Context, entity model.SyncEntity) (SyncResult, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return SyncResult{}, errs.Timeout("sync.upsert", err)
	}

	rec := &model.WALRecord{
		OpID:           entity.ID,
		Timestamp:      time.Now(),
		Op:             model.WALOpUpsert,
		EntitySnapshot: entity,
		Status:         model.WALPending,
	}
	m.putWAL(rec)

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		rec.Attempts++

		value, encodeErr := encodeEntity(entity)
		if encodeErr != nil {
			return SyncResult{OpID: rec.OpID, Err: encodeErr}, errs.InvalidInput("sync.upsert", encodeErr)
		}

		primaryErr := m.primary.Put(ctx, primaryKey(entity), value)
		var vectorErr error
		if primaryErr == nil {
			vectorErr = m.vector.UpsertPoint(ctx, defaultCollection, entity.ID, entity.Vector, entity.Metadata)
		}

		if primaryErr == nil && vectorErr == nil {
			rec.Status = model.WALCommitted
			m.putWAL(rec)
			if m.bus != nil {
				_ = m.bus.Publish(eventbus.SubjectSyncCommitted, map[string]string{"op_id": rec.OpID})
			}
			return SyncResult{OpID: rec.OpID, Committed: true, Attempts: rec.Attempts}, nil
		}

		lastErr = firstNonNil(primaryErr, vectorErr)
		rec.Status = model.WALFailed
		m.putWAL(rec)
		if m.bus != nil {
			_ = m.bus.Publish(eventbus.SubjectSyncFailed, map[string]string{"op_id": rec.OpID, "error": lastErr.Error()})
		}

		if attempt == m.cfg.MaxRetries-1 {
			break
		}

		backoff := time.Duration(math.Pow(4, float64(attempt))) * m.cfg.RetryBackoffBase
		telemetry.WarnCF(component, "sync attempt failed, retrying", lastErr, telemetry.Fields{"op_id": rec.OpID, "attempt": rec.Attempts, "backoff_ms": backoff.Milliseconds()})
		select {
		case <-ctx.Done():
			return SyncResult{OpID: rec.OpID, Attempts: rec.Attempts, Err: ctx.Err()}, errs.Timeout("sync.upsert", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return SyncResult{OpID: rec.OpID, Attempts: rec.Attempts, Err: lastErr}, errs.Transient("sync.upsert", lastErr)
}

// BatchUpsert respects MaxBatchSize, splitting larger inputs into
// sequential batches; within a batch at most MaxConcurrentOps Upserts
// run at once, each still admitted by the rate limiter inside Upsert.
func (m *Manager) BatchUpsert(ctx context.Context, entities []model.SyncEntity) ([]SyncResult, error) {
	results := make([]SyncResult, 0, len(entities))
	for start := 0; start < len(entities); start += m.cfg.MaxBatchSize {
		end := start + m.cfg.MaxBatchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[start:end]

		var mu sync.Mutex
		var wg sync.WaitGroup
		batchResults := make([]SyncResult, len(batch))
		sem := make(chan struct{}, m.cfg.MaxConcurrentOps)
		for i, e := range batch {
			wg.Add(1)
			go func(i int, e model.SyncEntity) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				res, err := m.Upsert(ctx, e)
				if err != nil && res.Err == nil {
					res.Err = err
				}
				mu.Lock()
				batchResults[i] = res
				mu.Unlock()
			}(i, e)
		}
		wg.Wait()
		results = append(results, batchResults...)
	}
	return results, nil
}

// Delete removes entityID from both stores, following the same WAL
// protocol as Upsert.
func (m *Manager) Delete(ctx context.Context, entityID, entityType string) (SyncResult, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return SyncResult{}, errs.Timeout("sync.delete", err)
	}

	rec := &model.WALRecord{
		OpID:      entityID,
		Timestamp: time.Now(),
		Op:        model.WALOpDelete,
		EntitySnapshot: model.SyncEntity{ID: entityID, EntityType: entityType},
		Status:    model.WALPending,
	}
	m.putWAL(rec)

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		rec.Attempts++
		primaryErr := m.primary.Delete(ctx, primaryKeyForID(entityType, entityID))
		var vectorErr error
		if primaryErr == nil {
			vectorErr = m.vector.DeletePoint(ctx, defaultCollection, entityID)
		}

		if primaryErr == nil && vectorErr == nil {
			rec.Status = model.WALCommitted
			m.putWAL(rec)
			if m.bus != nil {
				_ = m.bus.Publish(eventbus.SubjectSyncCommitted, map[string]string{"op_id": rec.OpID})
			}
			return SyncResult{OpID: rec.OpID, Committed: true, Attempts: rec.Attempts}, nil
		}

		lastErr = firstNonNil(primaryErr, vectorErr)
		rec.Status = model.WALFailed
		m.putWAL(rec)
		if attempt == m.cfg.MaxRetries-1 {
			break
		}
		backoff := time.Duration(math.Pow(4, float64(attempt))) * m.cfg.RetryBackoffBase
		select {
		case <-ctx.Done():
			return SyncResult{OpID: rec.OpID, Attempts: rec.Attempts, Err: ctx.Err()}, errs.Timeout("sync.delete", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return SyncResult{OpID: rec.OpID, Attempts: rec.Attempts, Err: lastErr}, errs.Transient("sync.delete", lastErr)
}

// WALSnapshot returns every WAL record currently tracked, for the
// Consistency Checker's Pending-is-source-of-truth cross-check.
func (m *Manager) WALSnapshot() []model.WALRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WALRecord, 0, len(m.wal))
	for _, r := range m.wal {
		out = append(out, *r)
	}
	return out
}

func (m *Manager) putWAL(rec *model.WALRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wal[rec.OpID] = rec
}

// IngestSink adapts Manager to pkg/ingest.Sink's narrower signature.
type IngestSink struct {
	Manager *Manager
}

func (s IngestSink) Upsert(ctx context.Context, entity model.SyncEntity) error {
	_, err := s.Manager.Upsert(ctx, entity)
	return err
}

func primaryKey(entity model.SyncEntity) string {
	return primaryKeyForID(entity.EntityType, entity.ID)
}

func primaryKeyForID(entityType, id string) string {
	return entityType + ":" + id
}

func firstNonNil(candidates ...error) error {
	for _, e := range candidates {
		if e != nil {
			return e
		}
	}
	return nil
}

func encodeEntity(entity model.SyncEntity) ([]byte, error) {
	return json.Marshal(entity)
}
