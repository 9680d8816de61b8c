package idempotency

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pushchain/payout-relay/relayer/config"
	"github.com/pushchain/payout-relay/relayer/db"
)

// Open builds the configured processed set backend. The sqlite backend shares database.
func Open(ctx context.Context, cfg config.IdempotencyConfig, database *db.DB, logger zerolog.Logger) (Store, error) {
	logger = logger.With().Str("component", "idempotency").Str("backend", string(cfg.Backend)).Logger()

	switch cfg.Backend {
	case config.IdempotencyBackendSQLite, "":
		return NewSQLStore(database)
	case config.IdempotencyBackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case config.IdempotencyBackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
	case config.IdempotencyBackendMemory:
		logger.Warn().Msg("in-memory processed set does not survive a restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}
