package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"risklock/internal/config"
	"risklock/internal/storage"
	"risklock/internal/storage/memory"
	"risklock/internal/storage/postgres"
	"risklock/internal/storage/sqlite"
)

// OpenStore 按 database.driver 打开持久化后端。
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		store, err := sqlite.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: 不支持的数据库驱动 %q", cfg.Driver)
	}
}
