package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/api"
	"github.com/soaringjerry/Sondeo/internal/backend/rest"
	"github.com/soaringjerry/Sondeo/internal/config"
	"github.com/soaringjerry/Sondeo/internal/db"
	"github.com/soaringjerry/Sondeo/internal/middleware"
	"github.com/soaringjerry/Sondeo/internal/services"
)

// clientStack is the client side: REST client plus the services built on it.
type clientStack struct {
	client   *rest.Client
	profiles *services.ProfileService
	survey   *services.SurveyService
}

// newClientStack wires the client against cfg.Backend. sessions nil keeps the
// session in memory, so one-shot commands never touch the terminal client's.
func newClientStack(c *config.Config, sessions rest.SessionStore, log *zap.Logger) (*clientStack, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client, err := rest.New(rest.Config{
		URL:        c.Backend.URL,
		AnonKey:    c.Backend.AnonKey,
		HTTPClient: &http.Client{Timeout: c.Backend.Timeout.D()},
		Sessions:   sessions,
		Logger:     log.Named("rest"),
	})
	if err != nil {
		return nil, err
	}
	return &clientStack{
		client: client,
		profiles: services.NewProfileService(client, log.Named("profiles"), services.ProfileConfig{
			Retry:             retryPolicy(c.App.ProfileRetry),
			MinPasswordLength: c.App.MinPasswordLength,
		}),
		survey: services.NewSurveyService(client, log.Named("survey")),
	}, nil
}

func retryPolicy(rc config.RetryConfig) services.RetryPolicy {
	return services.RetryPolicy{
		Attempts:     rc.Attempts,
		InitialDelay: rc.InitialDelay.D(),
		MaxDelay:     rc.MaxDelay.D(),
		Multiplier:   rc.Multiplier,
	}
}

// localBackend is an opened database plus the router serving it.
type localBackend struct {
	store  *db.SQLiteStore
	router *api.Router
}

func (b *localBackend) Close() error {
	b.router.Close()
	return b.store.DB().Close()
}

// openLocalBackend opens the database at c.Server.DBPath, applies migrations
// unless migrate is false and builds the router.
func openLocalBackend(ctx context.Context, c *config.Config, migrate bool, log *zap.Logger) (*localBackend, error) {
	if err := c.ValidateServer(); err != nil {
		return nil, err
	}
	if c.Server.JWTSecret == config.DevJWTSecret {
		log.Warn("using the development JWT secret; set server.jwt_secret or SONDEO_JWT_SECRET")
	}
	sqlDB, err := db.Open(c.Server.DBPath)
	if err != nil {
		return nil, err
	}
	store, err := db.NewSQLiteStore(sqlDB, log.Named("db"))
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if migrate {
		if _, err := db.RunMigrations(ctx, sqlDB, c.Server.MigrationsDir, log.Named("migrate")); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	signer, err := middleware.NewSigner(c.Server.JWTSecret)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	router, err := api.NewRouter(store, signer, api.Config{
		AnonKey:           c.Backend.AnonKey,
		SessionTTL:        c.Server.SessionTTL.D(),
		ProvisionDelay:    c.Server.ProvisionDelay.D(),
		OpenAdminSignup:   c.Server.OpenAdminSignup,
		MinPasswordLength: c.App.MinPasswordLength,
		DefaultLocale:     c.App.Locale,
		Version:           version,
	}, api.LogMailer{Log: log.Named("mail")}, log.Named("api"))
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &localBackend{store: store, router: router}, nil
}

// listen binds addr; "127.0.0.1:0" picks a free loopback port.
func listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return l, nil
}
