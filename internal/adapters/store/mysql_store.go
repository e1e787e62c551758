package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the VerdictRepository interface
type MySQLStore struct {
	db          *sql.DB
	logger      *zap.Logger
	retention   time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewMySQLStore connects to MySQL and ensures the verdict table exists
func NewMySQLStore(dsn string, logger *zap.Logger, retention, cleanupFreq time.Duration) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	// Timestamps are scanned straight into time.Time
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS phishing_verdicts (
			email_id VARCHAR(255) PRIMARY KEY,
			is_phishing BOOLEAN NOT NULL,
			phishing_score DOUBLE NOT NULL,
			detection_method VARCHAR(16) NOT NULL,
			risk_level VARCHAR(16) NOT NULL,
			evidence JSON NOT NULL,
			analyzed_at DATETIME(6) NOT NULL,
			INDEX idx_verdicts_analyzed_at (analyzed_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	s := &MySQLStore{
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
func (s *MySQLStore) Save(ctx context.Context, emailID string, verdict *core.Verdict) error {
	row, err := toRow(emailID, verdict)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO phishing_verdicts
			(email_id, is_phishing, phishing_score, detection_method, risk_level, evidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			is_phishing = VALUES(is_phishing),
			phishing_score = VALUES(phishing_score),
			detection_method = VALUES(detection_method),
			risk_level = VALUES(risk_level),
			evidence = VALUES(evidence),
			analyzed_at = VALUES(analyzed_at)
	`, row.EmailID, row.IsPhishing, row.PhishingScore, row.DetectionMethod, row.RiskLevel,
		string(row.Evidence), row.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}

	return nil
}

// Get retrieves the stored verdict for an email
func (s *MySQLStore) Get(ctx context.Context, emailID string) (*core.Verdict, error) {
	v, err := scanMySQLVerdict(s.db.QueryRowContext(ctx,
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
func (s *MySQLStore) List(ctx context.Context, filter core.VerdictFilter, page, pageSize int) (*core.VerdictPage, error) {
	return queryPage(ctx, s.db, filter, page, pageSize, scanMySQLVerdict)
}

// Delete permanently removes the stored verdict for an email
func (s *MySQLStore) Delete(ctx context.Context, emailID string) error {
	return deleteVerdict(ctx, s.db, emailID)
}

// Stats returns counts of stored verdicts by risk level and day
func (s *MySQLStore) Stats(ctx context.Context) (*core.VerdictStats, error) {
	return queryStats(ctx, s.db, "DATE_FORMAT(analyzed_at, '%Y-%m-%d')")
}

// Cleanup removes verdicts older than the retention window
func (s *MySQLStore) Cleanup(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM phishing_verdicts
		WHERE analyzed_at < ?
	`, time.Now().Add(-s.retention).UTC())
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
func (s *MySQLStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close MySQL database", zap.Error(err))
		}
	})
}

// scanMySQLVerdict decodes a row; the connector parses DATETIME into time.Time
func scanMySQLVerdict(scan func(dest ...any) error) (*core.Verdict, error) {
	var row verdictRow
	if err := scan(&row.EmailID, &row.IsPhishing, &row.PhishingScore, &row.DetectionMethod,
		&row.RiskLevel, &row.Evidence, &row.AnalyzedAt); err != nil {
		return nil, fmt.Errorf("failed to scan verdict: %w", err)
	}
	return row.toVerdict()
}
