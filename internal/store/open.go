package store

import (
	"context"
	"fmt"

	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/secrets"
)

// Open builds the PersistentStore selected by cfg.StoreDriver, optionally
// fronted by a ristretto memo. The returned close func releases everything
// Open created.
func Open(ctx context.Context, cfg *config.Config) (PersistentStore, func() error, error) {
	var (
		base    PersistentStore
		closers []func() error
	)

	switch cfg.StoreDriver {
	case "memory":
		base = NewMemory()
	case "sqlite":
		s, err := OpenSQLite(cfg.StoreSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		base = s
		closers = append(closers, s.Close)
	case "postgres":
		if err := secrets.Require(map[string]string{"DATABASE_URL": cfg.DatabaseURL}); err != nil {
			return nil, nil, err
		}
		p, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", secrets.MaskDSN(cfg.DatabaseURL), err)
		}
		base = p
		closers = append(closers, p.Close)
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	result := base
	if cfg.StoreMemoMB > 0 && cfg.StoreDriver != "memory" {
		memo, err := NewMemo(base, cfg.StoreMemoMB)
		if err != nil {
			logger.Warn("Store memo disabled", "error", err)
		} else {
			result = memo
			closers = append([]func() error{func() error { memo.Close(); return nil }}, closers...)
		}
	}

	logger.Info("Persistent store opened", "driver", cfg.StoreDriver, "memo_mb", cfg.StoreMemoMB)

	return result, func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}, nil
}
