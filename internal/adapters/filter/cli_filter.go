package filter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/metrics"
	"go.uber.org/zap"
)

// CliFilter implements a command-line interface for phishing detection
type CliFilter struct {
	service Analyzer
	metrics *metrics.Collector
	logger  *zap.Logger
	verbose bool
	out     io.Writer
}

// NewCliFilter creates a new CLI filter
func NewCliFilter(service Analyzer, collector *metrics.Collector, logger *zap.Logger, verbose bool) (*CliFilter, error) {
	return &CliFilter{
		service: service,
		metrics: collector,
		logger:  logger,
		verbose: verbose,
		out:     os.Stdout,
	}, nil
}

// SetOutput redirects the report, stdout by default
func (f *CliFilter) SetOutput(w io.Writer) {
	f.out = w
}

// ProcessEmail analyzes an email and prints the report
func (f *CliFilter) ProcessEmail(ctx context.Context, email *core.Email) (*core.Verdict, error) {
	f.logger.Debug("Processing email", zap.String("sender", email.From))

	fmt.Fprintf(f.out, "\n=== Email Summary ===\n")
	fmt.Fprintf(f.out, "From: %s\n", email.From)
	fmt.Fprintf(f.out, "To: %s\n", strings.Join(email.To, ", "))
	fmt.Fprintf(f.out, "Subject: %s\n", email.Subject)
	fmt.Fprintf(f.out, "Body length: %d bytes\n", len(email.Body))
	fmt.Fprintf(f.out, "Links: %d\n", len(email.Links))
	fmt.Fprintf(f.out, "SPF/DKIM/DMARC pass: %s/%s/%s\n",
		core.FlagString(email.SPFPass), core.FlagString(email.DKIMPass), core.FlagString(email.DMARCPass))

	if f.verbose {
		preview := email.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Fprintf(f.out, "\nBody preview:\n%s\n", preview)
		for _, link := range email.Links {
			fmt.Fprintf(f.out, "  link: %s (text %q)\n", link.URL, link.Text)
		}
	}

	fmt.Fprintf(f.out, "\n=== Analysis ===\n")
	startTime := time.Now()
	verdict, err := f.service.AnalyzeEmail(ctx, email)
	duration := time.Since(startTime)
	f.metrics.ObserveVerdict(verdict, duration.Seconds())
	if verdict == nil {
		f.logger.Error("Failed to analyze email", zap.Error(err))
		fmt.Fprintf(f.out, "Error: %v\n", err)
		return nil, err
	}

	fmt.Fprintf(f.out, "\n=== Results ===\n")
	fmt.Fprintf(f.out, "Email ID: %s\n", verdict.EmailID)
	fmt.Fprintf(f.out, "Is phishing: %t\n", verdict.IsPhishing)
	fmt.Fprintf(f.out, "Phishing score: %.1f\n", verdict.PhishingScore)
	fmt.Fprintf(f.out, "Risk level: %s\n", verdict.RiskLevel)
	fmt.Fprintf(f.out, "Detection method: %s\n", verdict.DetectionMethod)

	ev := verdict.Evidence
	if ev.MLAnalysis != nil {
		fmt.Fprintf(f.out, "Classifier: phishing=%t confidence=%s probability=%.3f\n",
			ev.MLAnalysis.IsPhishing, ev.MLAnalysis.Confidence, ev.MLAnalysis.Probability)
	}
	fmt.Fprintf(f.out, "Rule score: %d\n", ev.RuleAnalysis.Score)
	for _, indicator := range ev.RuleAnalysis.Indicators {
		fmt.Fprintf(f.out, "  - %s\n", indicator)
	}
	if ev.AIAnalysis != nil {
		fmt.Fprintf(f.out, "Arbiter (%s): %s\n", ev.AIAnalysis.Model, ev.AIAnalysis.Explanation)
	}
	if ev.MLError != "" {
		fmt.Fprintf(f.out, "Classifier error: %s\n", ev.MLError)
	}
	if ev.AIError != "" {
		fmt.Fprintf(f.out, "Arbiter error: %s\n", ev.AIError)
	}
	if err != nil {
		fmt.Fprintf(f.out, "Warning: %v\n", err)
	}
	fmt.Fprintf(f.out, "Processing time: %v\n", duration)

	return verdict, err
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
