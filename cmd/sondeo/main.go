package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/config"
	"github.com/soaringjerry/Sondeo/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Set by the root PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger

	// Set at build time with -ldflags "-X main.version=...".
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "sondeo",
	Short: "Sondeo - survey client and local backend",
	Long: `Sondeo lets users answer admin-defined questions and lets admins manage
questions, administrators and submissions.

Run without arguments to start the terminal client against the configured
backend, or "sondeo serve" to run the local backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		lc := logging.Config{Level: cfg.Logging.Level, Verbose: verbose}
		// the terminal client owns the screen
		if isTUI(cmd) {
			lc.File = cfg.Logging.File
		}
		logger, err = logging.New(lc)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runTUI,
}

// isTUI reports whether cmd runs the terminal client: the root command or "tui".
func isTUI(cmd *cobra.Command) bool { return !cmd.HasParent() || cmd.Name() == "tui" }

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&embedded, "embedded", false, "start a local backend on a loopback port and use it")

	rootCmd.AddCommand(tuiCmd, serveCmd, migrateCmd, adminCmd, questionsCmd, answersCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
