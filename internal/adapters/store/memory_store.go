package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the VerdictRepository interface.
// Verdicts are kept in their encoded row form so callers never share evidence
// slices or pointers with the store.
type MemoryStore struct {
	rows        map[string]*verdictRow
	mu          sync.RWMutex
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a new in-memory verdict store
func NewMemoryStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryStore {
	s := &MemoryStore{
		rows:        make(map[string]*verdictRow),
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go runCleanup(s, logger, cleanupFreq, s.stopCh)
	}

	return s
}

// Save stores a copy of the verdict
func (s *MemoryStore) Save(_ context.Context, emailID string, verdict *core.Verdict) error {
	row, err := toRow(emailID, verdict)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[emailID] = row
	return nil
}

// Get retrieves the stored verdict for an email
func (s *MemoryStore) Get(_ context.Context, emailID string) (*core.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[emailID]
	if !ok {
		return nil, ErrNotFound
	}
	return row.toVerdict()
}

// List returns one page of stored verdicts, newest first
func (s *MemoryStore) List(_ context.Context, filter core.VerdictFilter, page, pageSize int) (*core.VerdictPage, error) {
	page, pageSize, offset := pageBounds(page, pageSize)

	s.mu.RLock()
	matched := make([]*verdictRow, 0, len(s.rows))
	for _, row := range s.rows {
		if filter.IsPhishing == nil || row.IsPhishing == *filter.IsPhishing {
			matched = append(matched, row)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].AnalyzedAt.Equal(matched[j].AnalyzedAt) {
			return matched[i].AnalyzedAt.After(matched[j].AnalyzedAt)
		}
		return matched[i].EmailID < matched[j].EmailID
	})

	result := &core.VerdictPage{Verdicts: []*core.Verdict{}, Total: len(matched), Page: page, PageSize: pageSize}
	if offset >= len(matched) {
		return result, nil
	}
	for _, row := range matched[offset:min(offset+pageSize, len(matched))] {
		v, err := row.toVerdict()
		if err != nil {
			return nil, err
		}
		result.Verdicts = append(result.Verdicts, v)
	}
	return result, nil
}

// Delete permanently removes the stored verdict for an email
func (s *MemoryStore) Delete(_ context.Context, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[emailID]; !ok {
		return ErrNotFound
	}
	delete(s.rows, emailID)
	return nil
}

// Stats returns counts of stored verdicts by risk level and day
func (s *MemoryStore) Stats(_ context.Context) (*core.VerdictStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := newStatsAccumulator()
	for _, row := range s.rows {
		acc.add(row.IsPhishing, core.RiskLevel(row.RiskLevel), row.AnalyzedAt.Format(time.DateOnly), 1)
	}
	return acc.result(), nil
}

// Cleanup removes verdicts older than the retention window
func (s *MemoryStore) Cleanup(_ context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention)
	expired := 0
	for id, row := range s.rows {
		if row.AnalyzedAt.Before(cutoff) {
			delete(s.rows, id)
			expired++
		}
	}

	s.logger.Debug("Cleaned up expired verdicts", zap.Int("expired_count", expired))
	return nil
}

// Stop stops the background cleanup task
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
