package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/config"
	"github.com/nip10/varyant/internal/logging"
	"github.com/nip10/varyant/internal/telemetry"
)

// version is set at build time with -ldflags "-X".
var version = "dev"

const defaultConfigFile = "varyant.yaml"

// app holds the global flags and the state built from them before any
// subcommand runs.
type app struct {
	configPath string
	envFile    string
	dbPath     string
	storeKind  string
	logLevel   string

	cfg               *config.Config
	log               *slog.Logger
	shutdownTelemetry telemetry.ShutdownFunc
}

func Execute(ctx context.Context) error {
	a := &app{}
	defer a.close()
	return a.rootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "varyant",
		Short: "varyant - analyze A/B experiments and decide what to do next",
		Long: `varyant reads experiments from PostHog or its own SQLite store, computes
conversion rates, uplift and traffic split, and recommends whether to
SHIP, ITERATE, END, WAIT or INVESTIGATE.

Results can be viewed once (analyze), followed live in the terminal
(watch), served over HTTP (serve) or exposed to LLM clients (mcp).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./"+defaultConfigFile+" when present)")
	pf.StringVar(&a.envFile, "env-file", ".env", "env file loaded before reading VARYANT_* variables")
	pf.StringVar(&a.dbPath, "db", "", "database path for the sqlite store")
	pf.StringVar(&a.storeKind, "store", "", "experiment backend: sqlite or posthog")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newListCmd(a),
		newAnalyzeCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newTokenCmd(a),
		newCreateCmd(a),
		newStartCmd(a),
		newEndCmd(a),
		newArchiveCmd(a),
		newDeleteCmd(a),
		newRecordCmd(a),
		newExportCmd(a),
		newSnippetCmd(a),
	)
	return root
}

// setup resolves configuration in order: defaults, config file,
// environment, flags. It then installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := config.LoadEnvFile(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	path := a.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.storeKind != "" {
		cfg.Store = a.storeKind
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(a.log)
	cmd.SetContext(logging.NewContext(cmd.Context(), a.log))

	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown
	return nil
}

// close flushes telemetry. Export failures are logged, not returned.
func (a *app) close() {
	if a.shutdownTelemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.log.Warn("flush telemetry", "err", err)
	}
}
