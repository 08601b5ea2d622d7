package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/flowkit/internal/config"
	"github.com/roach88/flowkit/internal/persist"
	"github.com/roach88/flowkit/internal/store"
	"github.com/roach88/flowkit/internal/store/redisstore"
)

// backend is a persistence store the CLI can open from configuration.
type backend interface {
	persist.Backend
	persist.EventLog
	Close() error
}

// PersistOptions holds the persistence flags shared by run and serve.
type PersistOptions struct {
	Database    string
	Redis       string
	RedisPrefix string
}

func (p *PersistOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Database, "db", "", "path to SQLite database (env FLOWKIT_DB)")
	cmd.Flags().StringVar(&p.Redis, "redis", "", "redis address, wins over --db (env FLOWKIT_REDIS_ADDR)")
	cmd.Flags().StringVar(&p.RedisPrefix, "redis-prefix", "", "redis key prefix (env FLOWKIT_REDIS_PREFIX)")
}

// apply copies flags that were set over the configuration.
func (p *PersistOptions) apply(cfg *config.Config) {
	if p.Database != "" {
		cfg.DBPath = p.Database
	}
	if p.Redis != "" {
		cfg.RedisAddr = p.Redis
	}
	if p.RedisPrefix != "" {
		cfg.RedisPrefix = p.RedisPrefix
	}
}

// openBackend opens the configured store. It returns nil when neither a
// redis address nor a database path is configured.
func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch {
	case cfg.RedisAddr != "":
		s, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.DBPath != "":
		s, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}
