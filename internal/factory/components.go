package factory

import (
	"github.com/mikey/llm-phish-filter/internal/adapters/mailparse"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/metrics"
	"github.com/mikey/llm-phish-filter/internal/utils"
	"github.com/mikey/llm-phish-filter/internal/whitelist"
	"go.uber.org/zap"
)

// NewTextProcessor creates the body sanitizer shared by the remote analyzers
func NewTextProcessor(logger *zap.Logger) *utils.TextProcessor {
	return utils.NewTextProcessor(logger.Named("text"))
}

// NewParser creates the message parser from the parser section
func NewParser(cfg *config.Config, logger *zap.Logger) *mailparse.Parser {
	return mailparse.NewParser(logger.Named("parser"), cfg.GetBool("parser.verify_dkim"))
}

// NewWhitelistChecker creates the sender whitelist from the filter section
func NewWhitelistChecker(cfg *config.Config, logger *zap.Logger) *whitelist.Checker {
	return whitelist.NewChecker(cfg.GetStringSlice("filter.whitelisted_domains"), logger.Named("whitelist"))
}

// NewMetricsCollector creates the metrics collector from the metrics section
func NewMetricsCollector(cfg *config.Config) *metrics.Collector {
	return metrics.NewCollector(cfg.GetMetrics(), nil)
}
