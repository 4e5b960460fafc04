package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/matthewyakubiw/qml-main/internal/config"
)

// appCfg is resolved in PersistentPreRunE: environment first, then flags.
var appCfg config.Config

var globalFlags struct {
	Profile   string
	Rows      int
	Cols      int
	Seed      uint64
	Workspace string
}

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "qmlsh",
	Short: "Classical shadows and kernel learning for the 2D Heisenberg model",
	Long: `qmlsh builds datasets of random antiferromagnetic Heisenberg lattices,
estimates their two-point correlation matrices from classical shadows and
learns to predict them from the couplings with kernel regression.

Settings come from QML_* environment variables (or a .env file), optionally
overridden per profile with {PROFILE}_* and finally by flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(globalFlags.Profile)
		if err != nil {
			return err
		}
		fl := cmd.Flags()
		if fl.Changed("rows") {
			cfg.Rows = globalFlags.Rows
		}
		if fl.Changed("cols") {
			cfg.Cols = globalFlags.Cols
		}
		if fl.Changed("seed") {
			cfg.Seed = globalFlags.Seed
		}
		if fl.Changed("workspace") {
			cfg.Workspace = config.ExpandHome(globalFlags.Workspace)
		}
		if err := cfg.EnsureWorkspace(); err != nil {
			return fmt.Errorf("workspace: %w", err)
		}
		appCfg = cfg
		logCloser = setupLogging(cfg.DebugLogPath())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.Profile, "profile", "", "environment profile prefix ({PROFILE}_KEY falls back to QML_KEY)")
	pf.IntVar(&globalFlags.Rows, "rows", config.DefaultRows, "lattice rows")
	pf.IntVar(&globalFlags.Cols, "cols", config.DefaultCols, "lattice columns")
	pf.Uint64Var(&globalFlags.Seed, "seed", 0, "seed for coupling draws and shadows (default QML_SEED or 24)")
	pf.StringVar(&globalFlags.Workspace, "workspace", "", "output directory (default QML_WORKSPACE or ~/qml_workspace)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(fidelityCmd)
	rootCmd.AddCommand(shadowCmd)
	rootCmd.AddCommand(reportCmd)
}

// setupLogging sends the log package and the default slog logger to a
// rotating file so stdout stays clean for the display.
//
// QML_LOG_MAX_MB   rotate after this many megabytes (default 10)
// QML_LOG_BACKUPS  rotated files kept (default 3)
// QML_LOG_LEVEL    debug | info | warn | error (default info)
func setupLogging(path string) io.Closer {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    config.EnvInt("LOG_MAX_MB", 10),
		MaxBackups: config.EnvInt("LOG_BACKUPS", 3),
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.EnvString("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(lj, &slog.HandlerOptions{Level: level})))
	// SetDefault routes the log package through the handler; keep plain lines instead.
	log.SetOutput(lj)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return lj
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
