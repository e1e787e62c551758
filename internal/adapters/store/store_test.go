package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mikey/llm-phish-filter/internal/core"
)

func sampleVerdict(id string, score float64, analyzedAt time.Time) *core.Verdict {
	isPhishing := score >= 50
	method := core.DetectionNone
	if isPhishing {
		method = core.DetectionRules
	}
	return &core.Verdict{
		EmailID:         id,
		IsPhishing:      isPhishing,
		PhishingScore:   score,
		DetectionMethod: method,
		RiskLevel:       core.RiskLevelFromScore(score),
		Evidence: core.Evidence{
			MLError: "classifier unavailable",
			RuleAnalysis: core.RuleAnalysis{
				Score:      int(score),
				Indicators: []string{"Email authentication failure"},
			},
		},
		AnalyzedAt: analyzedAt,
	}
}

// exercise runs the same contract checks against every store
func exercise(t *testing.T, repo core.VerdictRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Save(ctx, "a", sampleVerdict("a", 20, now)))
	require.NoError(t, repo.Save(ctx, "b", sampleVerdict("b", 65, now)))
	require.NoError(t, repo.Save(ctx, "c", sampleVerdict("c", 95, now)))

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.EmailID)
	assert.True(t, got.IsPhishing)
	assert.Equal(t, 65.0, got.PhishingScore)
	assert.Equal(t, core.DetectionRules, got.DetectionMethod)
	assert.Equal(t, core.RiskSuspicious, got.RiskLevel)
	assert.Equal(t, "classifier unavailable", got.Evidence.MLError)
	assert.Equal(t, []string{"Email authentication failure"}, got.Evidence.RuleAnalysis.Indicators)
	assert.True(t, now.Equal(got.AnalyzedAt), "want %v got %v", now, got.AnalyzedAt)

	// Save replaces an earlier verdict for the same email
	require.NoError(t, repo.Save(ctx, "a", sampleVerdict("a", 85, now)))
	got, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.RiskHigh, got.RiskLevel)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictStats{
		Total:              3,
		Phishing:           3,
		PhishingPercentage: 100,
		Safe:               0,
		Suspicious:         1,
		HighRisk:           2,
		Trends:             []core.DailyTrend{{Date: now.Format(time.DateOnly), Phishing: 3}},
	}, *stats)

	require.NoError(t, repo.Delete(ctx, "c"))
	assert.ErrorIs(t, repo.Delete(ctx, "c"), ErrNotFound)
	_, err = repo.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

// exerciseListing checks paging, ordering, filtering and daily trends
func exerciseListing(t *testing.T, repo core.VerdictRepository) {
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	require.NoError(t, repo.Save(ctx, "v1", sampleVerdict("v1", 10, day1)))
	require.NoError(t, repo.Save(ctx, "v2", sampleVerdict("v2", 90, day1.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, "v3", sampleVerdict("v3", 60, day2)))
	require.NoError(t, repo.Save(ctx, "v4", sampleVerdict("v4", 5, day2.Add(time.Hour))))

	page, err := repo.List(ctx, core.VerdictFilter{}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.PageSize)
	assert.Equal(t, []string{"v4", "v3", "v2"}, verdictIDs(page))

	page, err = repo.List(ctx, core.VerdictFilter{}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, verdictIDs(page))

	phishing := true
	page, err = repo.List(ctx, core.VerdictFilter{IsPhishing: &phishing}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []string{"v3", "v2"}, verdictIDs(page))
	assert.Equal(t, []string{"Email authentication failure"}, page.Verdicts[0].Evidence.RuleAnalysis.Indicators)

	safe := false
	page, err = repo.List(ctx, core.VerdictFilter{IsPhishing: &safe}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.PageSize)
	assert.Equal(t, []string{"v4", "v1"}, verdictIDs(page))

	page, err = repo.List(ctx, core.VerdictFilter{}, 9, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Empty(t, page.Verdicts)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stats.PhishingPercentage)
	assert.Equal(t, []core.DailyTrend{
		{Date: "2026-03-01", Phishing: 1, Safe: 1},
		{Date: "2026-03-02", Phishing: 1, Safe: 1},
	}, stats.Trends)
}

func verdictIDs(page *core.VerdictPage) []string {
	ids := make([]string, 0, len(page.Verdicts))
	for _, v := range page.Verdicts {
		ids = append(ids, v.EmailID)
	}
	return ids
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(zaptest.NewLogger(t), time.Hour, 0)
	defer s.Stop()
	exercise(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "verdicts.db"), zaptest.NewLogger(t), time.Hour, 0)
	require.NoError(t, err)
	defer s.Stop()
	exercise(t, s)
}

func TestListing(t *testing.T) {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "verdicts.db"), zaptest.NewLogger(t), 0, 0)
	require.NoError(t, err)
	defer sqlite.Stop()
	memory := NewMemoryStore(zaptest.NewLogger(t), 0, 0)
	defer memory.Stop()

	for name, repo := range map[string]core.VerdictRepository{"sqlite": sqlite, "memory": memory} {
		t.Run(name, func(t *testing.T) {
			exerciseListing(t, repo)
		})
	}
}

func TestStats_EmptyStore(t *testing.T) {
	s := NewMemoryStore(zaptest.NewLogger(t), 0, 0)
	defer s.Stop()

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PhishingPercentage)
	assert.NotNil(t, stats.Trends)
	assert.Empty(t, stats.Trends)
}

func TestMemoryStore_DoesNotAliasEvidence(t *testing.T) {
	s := NewMemoryStore(zaptest.NewLogger(t), 0, 0)
	defer s.Stop()
	ctx := context.Background()

	score := 80.0
	v := sampleVerdict("x", 65, time.Now())
	v.Evidence.MLAnalysis = &core.Prediction{IsPhishing: true, Confidence: core.ConfidenceMedium, Probability: 0.65}
	v.Evidence.AIAnalysis = &core.AIVerdict{PhishingScore: &score}
	require.NoError(t, s.Save(ctx, "x", v))

	v.Evidence.RuleAnalysis.Indicators[0] = "changed"
	v.Evidence.MLAnalysis.Probability = 0.1
	score = 1

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Email authentication failure", got.Evidence.RuleAnalysis.Indicators[0])
	assert.Equal(t, 0.65, got.Evidence.MLAnalysis.Probability)
	assert.Equal(t, 80.0, *got.Evidence.AIAnalysis.PhishingScore)

	got.Evidence.RuleAnalysis.Indicators[0] = "mutated by reader"
	again, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "Email authentication failure", again.Evidence.RuleAnalysis.Indicators[0])
}

type deadlineArbiter struct{}

func (deadlineArbiter) AnalyzePhishing(ctx context.Context, _ string, _ map[string]string) (*core.AIVerdict, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSQLiteStore_SavesVerdictAfterAnalysisDeadline(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "verdicts.db"), zaptest.NewLogger(t), 0, 0)
	require.NoError(t, err)
	defer s.Stop()

	spfFail := false
	email := &core.Email{ID: "x", From: "a@example.org", SPFPass: &spfFail}
	svc := core.NewPhishingDetectionService(nil, deadlineArbiter{}, s, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	verdict, err := svc.AnalyzeEmail(ctx, email)
	require.NoError(t, err)
	assert.Contains(t, verdict.Evidence.AIError, context.DeadlineExceeded.Error())

	got, err := s.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, verdict.Evidence.AIError, got.Evidence.AIError)
	assert.Equal(t, 30, got.Evidence.RuleAnalysis.Score)
}

func TestCleanupRemovesExpired(t *testing.T) {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "verdicts.db"), zaptest.NewLogger(t), time.Hour, 0)
	require.NoError(t, err)
	defer sqlite.Stop()
	memory := NewMemoryStore(zaptest.NewLogger(t), time.Hour, 0)
	defer memory.Stop()

	for name, repo := range map[string]core.VerdictRepository{"sqlite": sqlite, "memory": memory} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, "old", sampleVerdict("old", 10, time.Now().Add(-2*time.Hour))))
			require.NoError(t, repo.Save(ctx, "new", sampleVerdict("new", 10, time.Now())))

			require.NoError(t, repo.Cleanup(ctx))

			_, err := repo.Get(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = repo.Get(ctx, "new")
			assert.NoError(t, err)
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop(), time.Hour, time.Millisecond)
	s.Stop()
	s.Stop()
}
