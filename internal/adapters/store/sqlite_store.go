package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// sqliteTimeLayout is fixed-width UTC so that text comparison orders timestamps
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a SQLite implementation of the VerdictRepository interface
type SQLiteStore struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewSQLiteStore opens (or creates) the verdict database at dbPath
func NewSQLiteStore(dbPath string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// Serialize writers; SQLite allows a single writer at a time
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS phishing_verdicts (
			email_id TEXT PRIMARY KEY,
			is_phishing BOOLEAN NOT NULL,
			phishing_score REAL NOT NULL,
			detection_method TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			evidence TEXT NOT NULL,
			analyzed_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_verdicts_analyzed_at ON phishing_verdicts(analyzed_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		logger:      logger,
		retention:   retention,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	if cleanupFreq > 0 {
		go runCleanup(s, logger, cleanupFreq, s.stopCh)
	}

	return s, nil
}

// Save upserts the verdict in a single statement
func (s *SQLiteStore) Save(ctx context.Context, emailID string, verdict *core.Verdict) error {
	row, err := toRow(emailID, verdict)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO phishing_verdicts
			(email_id, is_phishing, phishing_score, detection_method, risk_level, evidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.EmailID, row.IsPhishing, row.PhishingScore, row.DetectionMethod, row.RiskLevel,
		string(row.Evidence), row.AnalyzedAt.Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}

	return nil
}

// Get retrieves the stored verdict for an email
func (s *SQLiteStore) Get(ctx context.Context, emailID string) (*core.Verdict, error) {
	v, err := scanSQLiteVerdict(s.db.QueryRowContext(ctx,
		"SELECT "+verdictColumns+" FROM phishing_verdicts WHERE email_id = ?", emailID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query verdict: %w", err)
	}
	return v, nil
}

// List returns one page of stored verdicts, newest first
func (s *SQLiteStore) List(ctx context.Context, filter core.VerdictFilter, page, pageSize int) (*core.VerdictPage, error) {
	return queryPage(ctx, s.db, filter, page, pageSize, scanSQLiteVerdict)
}

// Delete permanently removes the stored verdict for an email
func (s *SQLiteStore) Delete(ctx context.Context, emailID string) error {
	return deleteVerdict(ctx, s.db, emailID)
}

// Stats returns counts of stored verdicts by risk level and day
func (s *SQLiteStore) Stats(ctx context.Context) (*core.VerdictStats, error) {
	return queryStats(ctx, s.db, "substr(analyzed_at, 1, 10)")
}

// Cleanup removes verdicts older than the retention window
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-s.retention).UTC().Format(sqliteTimeLayout)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM phishing_verdicts
		WHERE analyzed_at < ?
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up expired verdicts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		s.logger.Debug("Cleaned up expired verdicts", zap.Int64("expired_count", rowsAffected))
	}

	return nil
}

// Stop stops the background cleanup task and closes the database connection
func (s *SQLiteStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close SQLite database", zap.Error(err))
		}
	})
}

// scanSQLiteVerdict decodes a row whose analyzed_at is stored as text
func scanSQLiteVerdict(scan func(dest ...any) error) (*core.Verdict, error) {
	var row verdictRow
	var evidence, analyzedAt string

	if err := scan(&row.EmailID, &row.IsPhishing, &row.PhishingScore, &row.DetectionMethod,
		&row.RiskLevel, &evidence, &analyzedAt); err != nil {
		return nil, fmt.Errorf("failed to scan verdict: %w", err)
	}

	var err error
	row.Evidence = []byte(evidence)
	row.AnalyzedAt, err = time.Parse(sqliteTimeLayout, analyzedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analyzed_at timestamp: %w", err)
	}

	return row.toVerdict()
}
