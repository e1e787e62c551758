package factory

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mikey/llm-phish-filter/internal/adapters/bedrock"
	"github.com/mikey/llm-phish-filter/internal/adapters/gemini"
	"github.com/mikey/llm-phish-filter/internal/adapters/openai"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/utils"
	"go.uber.org/zap"
)

// ArbiterFactory creates the AI arbiter for the configured provider
type ArbiterFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewArbiterFactory creates a new arbiter factory
func NewArbiterFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ArbiterFactory {
	return &ArbiterFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateArbiter creates an arbiter based on the configuration. It returns nil
// when the arbiter is disabled; the detection service then records every
// escalation as an arbiter error.
func (f *ArbiterFactory) CreateArbiter() (core.Arbiter, error) {
	arbiterCfg, err := f.cfg.GetArbiter()
	if err != nil {
		return nil, fmt.Errorf("invalid arbiter configuration: %w", err)
	}
	if !arbiterCfg.Enabled {
		f.logger.Info("AI arbiter disabled")
		return nil, nil
	}

	var arbiter core.Arbiter
	switch arbiterCfg.Provider {
	case "gemini":
		arbiter, err = gemini.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClient()
	case "openai":
		arbiter, err = openai.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClient()
	case "bedrock":
		arbiter, err = bedrock.NewFactory(f.cfg, f.logger, f.textProcessor).CreateClient()
	default:
		return nil, fmt.Errorf("unsupported arbiter provider: %s", arbiterCfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	f.logger.Info("AI arbiter configured",
		zap.String("provider", arbiterCfg.Provider),
		zap.Duration("timeout", arbiterCfg.Timeout))

	return withArbiterTimeout(arbiter, arbiterCfg.Timeout), nil
}

// timeoutArbiter bounds each arbiter call
type timeoutArbiter struct {
	core.Arbiter
	timeout time.Duration
}

func withArbiterTimeout(arbiter core.Arbiter, timeout time.Duration) core.Arbiter {
	if timeout <= 0 {
		return arbiter
	}
	return &timeoutArbiter{Arbiter: arbiter, timeout: timeout}
}

func (a *timeoutArbiter) AnalyzePhishing(ctx context.Context, text string, metadata map[string]string) (*core.AIVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Arbiter.AnalyzePhishing(ctx, text, metadata)
}

// Close releases the wrapped client when it holds resources
func (a *timeoutArbiter) Close() error {
	if c, ok := a.Arbiter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
