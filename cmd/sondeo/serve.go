package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Sondeo/internal/db"
)

const shutdownTimeout = 10 * time.Second

var noMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local backend",
	Long: `Serves the auth and table API on server.addr, backed by the SQLite
database at server.db_path. Migrations are applied first unless --no-migrate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		backend, err := openLocalBackend(ctx, cfg, !noMigrate, logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := backend.Close(); cerr != nil {
				logger.Warn("close backend", zap.Error(cerr))
			}
		}()

		l, err := listen(cfg.Server.Addr)
		if err != nil {
			return err
		}
		logger.Info("sondeo backend listening", zap.String("addr", l.Addr().String()), zap.String("db", cfg.Server.DBPath))
		return serveBackend(ctx, l, backend, cfg.Server.PurgeInterval.D())
	},
}

// serveBackend serves on l until ctx is done, purging expired sessions every interval.
func serveBackend(ctx context.Context, l net.Listener, backend *localBackend, interval time.Duration) error {
	srv := &http.Server{
		Handler:           backend.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	if interval > 0 {
		g.Go(func() error { return backend.router.PurgeSessions(ctx, interval) })
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations to the local backend database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		sqlDB, err := db.Open(cfg.Server.DBPath)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		applied, err := db.RunMigrations(ctx, sqlDB, cfg.Server.MigrationsDir, logger)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noMigrate, "no-migrate", false, "do not apply migrations on start")
}
