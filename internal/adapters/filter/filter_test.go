package filter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mikey/llm-phish-filter/internal/adapters/mailparse"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/metrics"
	"github.com/mikey/llm-phish-filter/internal/whitelist"
)

type fakeAnalyzer struct {
	verdict *core.Verdict
	err     error
	calls   int
	last    *core.Email
}

func (f *fakeAnalyzer) AnalyzeEmail(_ context.Context, email *core.Email) (*core.Verdict, error) {
	f.calls++
	f.last = email
	return f.verdict, f.err
}

var testHeaders = HeaderNames{
	Status: "X-Phishing-Status",
	Score:  "X-Phishing-Score",
	Risk:   "X-Phishing-Risk",
	Method: "X-Phishing-Method",
}

const rawMessage = "From: alerts@bank-secure.example\r\n" +
	"To: user@example.org\r\n" +
	"Subject: Verify your account\r\n" +
	"\r\n" +
	"Click here to verify.\r\n"

func highRiskVerdict() *core.Verdict {
	return &core.Verdict{
		EmailID:         "id-1",
		IsPhishing:      true,
		PhishingScore:   92,
		DetectionMethod: core.DetectionML,
		RiskLevel:       core.RiskHigh,
	}
}

func newTestFilter(t *testing.T, analyzer Analyzer, opts PostfixOptions, whitelisted ...string) (*PostfixFilter, *metrics.Collector) {
	logger := zaptest.NewLogger(t)
	collector := metrics.NewCollector(config.MetricsConfig{Enabled: true, Namespace: "test"}, nil)
	opts.Headers = testHeaders
	f := NewPostfixFilter(
		analyzer,
		mailparse.NewParser(logger, false),
		whitelist.NewChecker(whitelisted, logger),
		collector,
		logger,
		opts,
	)
	return f, collector
}

func TestTag_AddsVerdictHeaders(t *testing.T) {
	tagger := &messageTagger{headers: testHeaders}

	out := string(tagger.tag([]byte(rawMessage), "Verify your account", highRiskVerdict(), nil))

	assert.True(t, strings.HasPrefix(out, "X-Phishing-Status: phishing\r\n"))
	assert.Contains(t, out, "X-Phishing-Score: 92.0\r\n")
	assert.Contains(t, out, "X-Phishing-Risk: High Risk\r\n")
	assert.Contains(t, out, "X-Phishing-Method: ml\r\n")
	assert.Contains(t, out, "Subject: Verify your account\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nClick here to verify.\r\n"))
	assert.NotContains(t, out, AnalysisErrorHeader)
}

func TestTag_SubjectPrefix(t *testing.T) {
	tagger := &messageTagger{headers: testHeaders, modifySubject: true, subjectPrefix: "[PHISHING] "}

	out := string(tagger.tag([]byte(rawMessage), "Verify your account", highRiskVerdict(), nil))
	assert.Contains(t, out, "Subject: [PHISHING] Verify your account\r\n")
	assert.Equal(t, 1, strings.Count(out, "Subject:"))

	again := string(tagger.tag([]byte(out), "[PHISHING] Verify your account", highRiskVerdict(), nil))
	assert.Equal(t, 1, strings.Count(again, "[PHISHING]"))

	clean := &core.Verdict{DetectionMethod: core.DetectionNone, RiskLevel: core.RiskSafe}
	out = string(tagger.tag([]byte(rawMessage), "Verify your account", clean, nil))
	assert.Contains(t, out, "X-Phishing-Status: clean\r\n")
	assert.NotContains(t, out, "[PHISHING]")
}

func TestTag_AnalysisErrorAndBareLF(t *testing.T) {
	tagger := &messageTagger{headers: testHeaders}
	raw := []byte("Subject: hi\n\nbody\n")

	out := string(tagger.tag(raw, "hi", nil, errors.New("parse\nfailed")))
	assert.Equal(t, "X-Phishing-Status: unknown\nX-Phishing-Analysis-Error: parse failed\nSubject: hi\n\nbody\n", out)
}

func TestFilterMessage_TagsAndForwards(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: highRiskVerdict()}
	f, collector := newTestFilter(t, analyzer, PostfixOptions{})

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", []string{"user@example.org"}, []byte(rawMessage))
	require.NoError(t, err)

	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, "Verify your account", analyzer.last.Subject)
	assert.Contains(t, string(out), "X-Phishing-Risk: High Risk")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `test_verdicts_total{method="ml",risk="High Risk"} 1`)
}

func TestFilterMessage_BlocksHighRisk(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: highRiskVerdict()}
	f, _ := newTestFilter(t, analyzer, PostfixOptions{BlockHighRisk: true})

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", nil, []byte(rawMessage))
	assert.Nil(t, out)

	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
}

func TestFilterMessage_NeverBlocksWhenAnalysisFailed(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: highRiskVerdict(), err: errors.New("failed to save verdict")}
	f, _ := newTestFilter(t, analyzer, PostfixOptions{BlockHighRisk: true})

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", nil, []byte(rawMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), "X-Phishing-Status: phishing")
	assert.Contains(t, string(out), AnalysisErrorHeader+": failed to save verdict")
}

func TestFilterMessage_SuspiciousIsNotBlocked(t *testing.T) {
	v := highRiskVerdict()
	v.PhishingScore = 70
	v.RiskLevel = core.RiskSuspicious
	f, _ := newTestFilter(t, &fakeAnalyzer{verdict: v}, PostfixOptions{BlockHighRisk: true})

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", nil, []byte(rawMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), "X-Phishing-Risk: Suspicious")
}

func TestFilterMessage_WhitelistSkipsAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: highRiskVerdict()}
	f, _ := newTestFilter(t, analyzer, PostfixOptions{BlockHighRisk: true}, "bank-secure.example")

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", nil, []byte(rawMessage))
	require.NoError(t, err)
	assert.Equal(t, 0, analyzer.calls)
	assert.Equal(t, rawMessage, string(out))
}

func TestFilterMessage_WhitelistIgnoredWhenAuthenticationFails(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: highRiskVerdict()}
	f, _ := newTestFilter(t, analyzer, PostfixOptions{}, "bank-secure.example")

	raw := "Authentication-Results: mx.example.org; spf=fail smtp.mailfrom=alerts@bank-secure.example\r\n" + rawMessage

	out, err := f.filterMessage(context.Background(), "alerts@bank-secure.example", nil, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, analyzer.calls)
	require.NotNil(t, analyzer.last.SPFPass)
	assert.False(t, *analyzer.last.SPFPass)
	assert.Contains(t, string(out), "X-Phishing-Status: phishing")
}

func TestTag_ReplacesInboundVerdictHeaders(t *testing.T) {
	tagger := &messageTagger{headers: testHeaders}
	raw := "X-Phishing-Status: clean\r\n" +
		"x-phishing-score: 0.0\r\n" +
		"X-Phishing-Risk: Safe\r\n" +
		"X-Phishing-Analysis-Error: none\r\n" +
		"X-Phishing-Method:\r\n" +
		"\tfolded\r\n" +
		rawMessage

	out := string(tagger.tag([]byte(raw), "Verify your account", highRiskVerdict(), nil))

	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "x-phishing-status:"))
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "x-phishing-score:"))
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "x-phishing-risk:"))
	assert.Equal(t, 1, strings.Count(strings.ToLower(out), "x-phishing-method:"))
	assert.NotContains(t, out, AnalysisErrorHeader)
	assert.NotContains(t, out, "folded")
	assert.Contains(t, out, "X-Phishing-Status: phishing\r\n")
	assert.Contains(t, out, "From: alerts@bank-secure.example\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\nClick here to verify.\r\n"))
}

func TestCliFilter_PrintsReport(t *testing.T) {
	v := highRiskVerdict()
	v.Evidence = core.Evidence{
		RuleAnalysis: core.RuleAnalysis{Score: 30, Indicators: []string{"Email authentication failure"}},
		AIError:      "arbiter unavailable",
	}
	collector := metrics.NewCollector(config.MetricsConfig{Enabled: true}, nil)
	f, err := NewCliFilter(&fakeAnalyzer{verdict: v}, collector, zaptest.NewLogger(t), true)
	require.NoError(t, err)

	var buf bytes.Buffer
	f.SetOutput(&buf)

	got, err := f.ProcessEmail(context.Background(), &core.Email{From: "a@b.example", Subject: "s", Body: "body"})
	require.NoError(t, err)
	assert.Same(t, v, got)

	out := buf.String()
	assert.Contains(t, out, "Risk level: High Risk")
	assert.Contains(t, out, "  - Email authentication failure")
	assert.Contains(t, out, "Arbiter error: arbiter unavailable")
	assert.Contains(t, out, "SPF/DKIM/DMARC pass: Unknown/Unknown/Unknown")
}
