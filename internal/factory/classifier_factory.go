package factory

import (
	"fmt"

	"github.com/mikey/llm-phish-filter/internal/adapters/modelserver"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/utils"
	"go.uber.org/zap"
)

// ClassifierFactory creates the classifier service client
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates the model server client, or nil when disabled
func (f *ClassifierFactory) CreateClassifier() (core.Classifier, error) {
	classifierCfg, err := f.cfg.GetClassifier()
	if err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}
	if !classifierCfg.Enabled {
		f.logger.Info("Classifier service disabled")
		return nil, nil
	}
	if classifierCfg.Endpoint == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}

	return modelserver.NewClient(
		classifierCfg.Endpoint,
		classifierCfg.Timeout,
		classifierCfg.MaxBodySize,
		f.logger.Named("classifier"),
		f.textProcessor,
	), nil
}
