package di

import (
	"go.uber.org/dig"

	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/factory"
	"github.com/mikey/llm-phish-filter/internal/logging"
	"github.com/mikey/llm-phish-filter/internal/ports"
)

// BuildContainer creates and configures the dependency injection container for
// the filter daemon. An empty configFile searches the default locations.
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.NewFromFile(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideCommon(container); err != nil {
		return nil, err
	}

	return container, nil
}

// provideCommon registers everything downstream of *config.Config and *zap.Logger
func provideCommon(container *dig.Container) error {
	constructors := []interface{}{
		// Supporting components
		factory.NewTextProcessor,
		factory.NewParser,
		factory.NewWhitelistChecker,
		factory.NewMetricsCollector,

		// Factories
		factory.NewArbiterFactory,
		factory.NewClassifierFactory,
		factory.NewStoreFactory,
		factory.NewFilterFactory,

		// Analyzers and persistence
		func(f *factory.ClassifierFactory) (core.Classifier, error) {
			return f.CreateClassifier()
		},
		func(f *factory.ArbiterFactory) (core.Arbiter, error) {
			return f.CreateArbiter()
		},
		func(f *factory.StoreFactory) (factory.VerdictStore, error) {
			return f.CreateVerdictStore()
		},
		func(s factory.VerdictStore) core.VerdictRepository {
			return s
		},

		// Detection service
		core.NewPhishingDetectionService,

		// Email filter
		func(f *factory.FilterFactory) (ports.EmailFilter, error) {
			return f.CreateEmailFilter()
		},
	}

	for _, constructor := range constructors {
		if err := container.Provide(constructor); err != nil {
			return err
		}
	}
	return nil
}
