// Package store selects the storage backend of the study binary.
package store

import (
	"log/slog"
	"os"

	"github.com/HatiCode/ensagg/cmd/study/config"
	"github.com/HatiCode/ensagg/pkg/storage"
)

// New creates the configured storage backend. An unreachable Redis is
// fatal: running the study without persistence would silently lose every
// result.
func New(cfg *config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case "redis":
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to create redis store", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("using redis store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return s
	case "memory":
		logger.Info("using in-memory store")
		return storage.NewMemoryStore()
	default:
		logger.Error("unknown storage backend", "storage", cfg.Storage)
		os.Exit(1)
		return nil
	}
}
