package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/llm-phish-filter/internal/adapters/store"
	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// VerdictStore is a verdict repository with a background cleanup to stop
type VerdictStore interface {
	core.VerdictRepository
	Stop()
}

// StoreFactory creates verdict stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateVerdictStore creates a verdict store based on the configuration
func (f *StoreFactory) CreateVerdictStore() (VerdictStore, error) {
	storeCfg, err := f.cfg.GetStore()
	if err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	logger := f.logger.Named("store")

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(logger, storeCfg.Retention, storeCfg.CleanupFrequency), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storeCfg.SQLitePath, logger, storeCfg.Retention, storeCfg.CleanupFrequency)
	case "mysql":
		return store.NewMySQLStore(storeCfg.MySQLDSN, logger, storeCfg.Retention, storeCfg.CleanupFrequency)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
