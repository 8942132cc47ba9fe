package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/app"
	"github.com/soaringjerry/Sondeo/internal/backend/rest"
	"github.com/soaringjerry/Sondeo/internal/tui"
)

var embedded bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Start the terminal client (default)",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().BoolVar(&embedded, "embedded", false, "start a local backend on a loopback port and use it")
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sessions rest.SessionStore = rest.NewFileStore(cfg.Backend.SessionFile)
	if embedded {
		url, wait, err := startEmbedded(ctx)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			if err := wait(); err != nil {
				logger.Warn("embedded backend stopped with error", zap.Error(err))
			}
		}()
		cfg.Backend.URL = url
		// a hosted backend's saved session means nothing here
		sessions = rest.NewMemoryStore()
	}

	stack, err := newClientStack(cfg, sessions, logger)
	if err != nil {
		return err
	}
	ctrl := app.New(stack.client, stack.profiles, stack.survey, app.Options{
		Locale:        cfg.App.Locale,
		ResetRedirect: cfg.App.ResetRedirect,
		Logger:        logger.Named("app"),
	})
	model := tui.New(ctrl, tui.Options{Context: ctx, Logger: logger.Named("tui")})
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("terminal client: %w", err)
	}
	return nil
}

// startEmbedded serves the local backend on a free loopback port until ctx is
// done. wait blocks until it has shut down.
func startEmbedded(ctx context.Context) (url string, wait func() error, err error) {
	backend, err := openLocalBackend(ctx, cfg, true, logger)
	if err != nil {
		return "", nil, err
	}
	l, err := listen("127.0.0.1:0")
	if err != nil {
		_ = backend.Close()
		return "", nil, err
	}
	done := make(chan error, 1)
	go func() {
		err := serveBackend(ctx, l, backend, cfg.Server.PurgeInterval.D())
		if cerr := backend.Close(); err == nil {
			err = cerr
		}
		done <- err
	}()
	url = "http://" + l.Addr().String()
	logger.Info("embedded backend started", zap.String("url", url))
	return url, func() error { return <-done }, nil
}
