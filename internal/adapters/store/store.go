package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no verdict is stored for an email
var ErrNotFound = errors.New("verdict not found")

// verdictRow is the flattened form shared by the SQL stores
type verdictRow struct {
	EmailID         string
	IsPhishing      bool
	PhishingScore   float64
	DetectionMethod string
	RiskLevel       string
	Evidence        []byte
	AnalyzedAt      time.Time
}

func toRow(emailID string, v *core.Verdict) (*verdictRow, error) {
	evidence, err := json.Marshal(v.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	return &verdictRow{
		EmailID:         emailID,
		IsPhishing:      v.IsPhishing,
		PhishingScore:   v.PhishingScore,
		DetectionMethod: string(v.DetectionMethod),
		RiskLevel:       string(v.RiskLevel),
		Evidence:        evidence,
		AnalyzedAt:      v.AnalyzedAt.UTC(),
	}, nil
}

func (r *verdictRow) toVerdict() (*core.Verdict, error) {
	v := &core.Verdict{
		EmailID:         r.EmailID,
		IsPhishing:      r.IsPhishing,
		PhishingScore:   r.PhishingScore,
		DetectionMethod: core.DetectionMethod(r.DetectionMethod),
		RiskLevel:       core.RiskLevel(r.RiskLevel),
		AnalyzedAt:      r.AnalyzedAt,
	}
	if len(r.Evidence) > 0 {
		if err := json.Unmarshal(r.Evidence, &v.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence: %w", err)
		}
	}
	return v, nil
}

// Listing bounds
const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// verdictColumns is the column order every SQL scan expects
const verdictColumns = "email_id, is_phishing, phishing_score, detection_method, risk_level, evidence, analyzed_at"

// pageBounds normalizes a 1-based page request and returns the row offset
func pageBounds(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize, (page - 1) * pageSize
}

// statsAccumulator folds grouped verdict counts into VerdictStats
type statsAccumulator struct {
	stats core.VerdictStats
	days  map[string]*core.DailyTrend
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{days: make(map[string]*core.DailyTrend)}
}

// add records n verdicts with the given outcome analyzed on day
func (a *statsAccumulator) add(isPhishing bool, risk core.RiskLevel, day string, n int) {
	a.stats.Total += n
	if isPhishing {
		a.stats.Phishing += n
	}
	switch risk {
	case core.RiskSafe:
		a.stats.Safe += n
	case core.RiskSuspicious:
		a.stats.Suspicious += n
	case core.RiskHigh:
		a.stats.HighRisk += n
	}

	trend, ok := a.days[day]
	if !ok {
		trend = &core.DailyTrend{Date: day}
		a.days[day] = trend
	}
	if isPhishing {
		trend.Phishing += n
	} else {
		trend.Safe += n
	}
}

// result returns the stats with the phishing share rounded to two decimals and
// trends in ascending date order
func (a *statsAccumulator) result() *core.VerdictStats {
	stats := a.stats
	if stats.Total > 0 {
		stats.PhishingPercentage = math.Round(float64(stats.Phishing)*10000/float64(stats.Total)) / 100
	}

	stats.Trends = make([]core.DailyTrend, 0, len(a.days))
	for _, trend := range a.days {
		stats.Trends = append(stats.Trends, *trend)
	}
	sort.Slice(stats.Trends, func(i, j int) bool { return stats.Trends[i].Date < stats.Trends[j].Date })
	return &stats
}

// scanFunc decodes one verdict from a row using the driver's scan function
type scanFunc func(scan func(dest ...any) error) (*core.Verdict, error)

// queryStats aggregates verdict counts per outcome and day. dayExpr renders
// analyzed_at as YYYY-MM-DD in the backend's SQL dialect.
func queryStats(ctx context.Context, db *sql.DB, dayExpr string) (*core.VerdictStats, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT is_phishing, risk_level, `+dayExpr+` AS day, COUNT(*)
		FROM phishing_verdicts
		GROUP BY is_phishing, risk_level, day
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdict stats: %w", err)
	}
	defer rows.Close()

	acc := newStatsAccumulator()
	for rows.Next() {
		var isPhishing bool
		var risk, day string
		var n int
		if err := rows.Scan(&isPhishing, &risk, &day, &n); err != nil {
			return nil, fmt.Errorf("failed to scan verdict stats: %w", err)
		}
		acc.add(isPhishing, core.RiskLevel(risk), day, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdict stats: %w", err)
	}
	return acc.result(), nil
}

// queryPage returns one page of verdicts, newest first
func queryPage(ctx context.Context, db *sql.DB, filter core.VerdictFilter, page, pageSize int, scanVerdict scanFunc) (*core.VerdictPage, error) {
	page, pageSize, offset := pageBounds(page, pageSize)

	where := ""
	var args []any
	if filter.IsPhishing != nil {
		where = " WHERE is_phishing = ?"
		args = append(args, *filter.IsPhishing)
	}

	result := &core.VerdictPage{Verdicts: []*core.Verdict{}, Page: page, PageSize: pageSize}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM phishing_verdicts"+where, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+verdictColumns+" FROM phishing_verdicts"+where+
			" ORDER BY analyzed_at DESC, email_id LIMIT ? OFFSET ?",
		append(args, pageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVerdict(rows.Scan)
		if err != nil {
			return nil, err
		}
		result.Verdicts = append(result.Verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdicts: %w", err)
	}
	return result, nil
}

// deleteVerdict removes one row, reporting ErrNotFound when nothing matched
func deleteVerdict(ctx context.Context, db *sql.DB, emailID string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM phishing_verdicts WHERE email_id = ?`, emailID)
	if err != nil {
		return fmt.Errorf("failed to delete verdict: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete verdict: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// runCleanup periodically removes expired verdicts until stopCh is closed
func runCleanup(repo core.VerdictRepository, logger *zap.Logger, every time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := repo.Cleanup(context.Background()); err != nil {
				logger.Error("Failed to clean up verdict store", zap.Error(err))
			}
		case <-stopCh:
			return
		}
	}
}
