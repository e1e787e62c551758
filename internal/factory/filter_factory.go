package factory

import (
	"fmt"

	"github.com/mikey/llm-phish-filter/internal/adapters/filter"
	"github.com/mikey/llm-phish-filter/internal/adapters/mailparse"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/metrics"
	"github.com/mikey/llm-phish-filter/internal/ports"
	"github.com/mikey/llm-phish-filter/internal/whitelist"
	"go.uber.org/zap"
)

// FilterFactory creates email filters based on configuration
type FilterFactory struct {
	cfg       *config.Config
	logger    *zap.Logger
	service   *core.PhishingDetectionService
	parser    *mailparse.Parser
	whitelist *whitelist.Checker
	metrics   *metrics.Collector
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(
	cfg *config.Config,
	logger *zap.Logger,
	service *core.PhishingDetectionService,
	parser *mailparse.Parser,
	whitelistChecker *whitelist.Checker,
	collector *metrics.Collector,
) *FilterFactory {
	return &FilterFactory{
		cfg:       cfg,
		logger:    logger,
		service:   service,
		parser:    parser,
		whitelist: whitelistChecker,
		metrics:   collector,
	}
}

// CreateEmailFilter creates an email filter based on the configuration
func (f *FilterFactory) CreateEmailFilter() (ports.EmailFilter, error) {
	filterType := f.cfg.GetString("server.filter_type")

	switch filterType {
	case "postfix":
		timeout, err := f.cfg.GetDuration("server.analysis_timeout")
		if err != nil {
			return nil, err
		}
		return filter.NewPostfixFilter(
			f.service,
			f.parser,
			f.whitelist,
			f.metrics,
			f.logger.Named("postfix"),
			filter.PostfixOptions{
				ListenAddr:      f.cfg.GetString("server.listen_address"),
				AnalysisTimeout: timeout,
				BlockHighRisk:   f.cfg.GetBool("server.block_high_risk"),
				Headers: filter.HeaderNames{
					Status: f.cfg.GetString("server.headers.status"),
					Score:  f.cfg.GetString("server.headers.score"),
					Risk:   f.cfg.GetString("server.headers.risk"),
					Method: f.cfg.GetString("server.headers.method"),
				},
				PostfixAddr:    f.cfg.GetString("server.postfix.address"),
				PostfixPort:    f.cfg.GetInt("server.postfix.port"),
				PostfixEnabled: f.cfg.GetBool("server.postfix.enabled"),
				ModifySubject:  f.cfg.GetBool("server.modify_subject"),
				SubjectPrefix:  f.cfg.GetString("server.subject_prefix"),
			},
		), nil
	case "cli":
		return filter.NewCliFilter(
			f.service,
			f.metrics,
			f.logger,
			f.cfg.GetBool("cli.verbose"),
		)
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", filterType)
	}
}
