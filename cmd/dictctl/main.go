// dictctl is the administration CLI for the temporal dictionary store. It
// manages dictionaries, attribute schemas, ownership, positions and values,
// and drives CSV import/export against a PostgreSQL backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/refdata/dictstore/internal/config"
	"github.com/refdata/dictstore/internal/core"
	"github.com/refdata/dictstore/internal/logging"
	"github.com/refdata/dictstore/internal/store"
)

// app carries the wired-up service shared by all subcommands.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	svc   *core.Service
	actor core.Identity
}

// setup loads configuration, connects the pool and builds the service.
// Called from the root PersistentPreRunE so every subcommand gets it.
func (a *app) setup(ctx context.Context) error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err == nil {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool

	a.svc = core.NewService(store.NewPostgres(pool), core.Options{
		CacheTTL:             cfg.Cache.TTL,
		CacheMaxEntries:      cfg.Cache.MaxEntries,
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		ImportMaxWait:        cfg.Import.MaxWaitTime,
		MaxImportSize:        cfg.Import.MaxFileSize,
	})

	roles := make(map[core.Role]bool, len(cfg.Actor.Roles))
	for _, r := range cfg.Actor.Roles {
		roles[core.Role(r)] = true
	}
	a.actor = core.Identity{
		UserID:     cfg.Actor.UserID,
		Roles:      roles,
		Department: cfg.Actor.Department,
	}
	return nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// dictionaryByCode resolves the code argument used by most subcommands.
func (a *app) dictionaryByCode(ctx context.Context, code string) (*core.Dictionary, error) {
	d, err := a.svc.FindDictionaryByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("dictionary %q: %w", code, err)
	}
	return d, nil
}

// parseDateFlag parses a YYYY-MM-DD flag value; empty means zero time.
func parseDateFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// asOfFlag parses the shared --as-of flag, defaulting to today.
func asOfFlag(s string) (time.Time, error) {
	if s == "" {
		return core.DateOnly(time.Now()), nil
	}
	return parseDateFlag(s)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "dictctl",
		Short:         "Manage shared reference dictionaries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			// Long imports benefit from cache sweeping; everything else
			// exits before the first tick.
			go a.svc.StartCacheJanitor(cmd.Context(), a.cfg.Cache.SweepInterval)
			cmd.SetContext(core.ContextWithIdentity(cmd.Context(), a.actor))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.AddCommand(
		newDictCmd(a),
		newAttrCmd(a),
		newOwnerCmd(a),
		newPositionCmd(a),
		newValueCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newAuditCmd(a),
	)
	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
