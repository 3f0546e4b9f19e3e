package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abramin/callscope/internal/config"
	"github.com/abramin/callscope/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile    string
	projectDir string
	logLevel   string
	logFormat  string
	traceFile  string

	cfg           *config.Config
	traceShutdown telemetry.ShutdownFunc
	traceOut      *os.File
)

var rootCmd = &cobra.Command{
	Use:   "callscope",
	Short: "callscope - static call graphs for Rust sources",
	Long: `callscope parses Rust source files and builds a call graph of the
functions they define: who calls whom, which calls leave the code base,
and which names could not be resolved.

It answers reachability, shortest-path and ordering questions, tracks
which functions are reachable from verification-annotated code, and
serves the graph to renderers and editors over a JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(); err != nil {
			return err
		}

		var err error
		path := cfgFile
		if path == "" {
			path = filepath.Join(projectDir, config.FileName)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if traceFile != "" {
			traceOut, err = os.Create(traceFile)
			if err != nil {
				return fmt.Errorf("opening trace file: %w", err)
			}
			traceShutdown, err = telemetry.SetupTracing(traceOut, Version)
			if err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdownTracing()
	},
}

// Execute runs the root command. Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		_ = shutdownTracing()
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: ")+err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <dir>/callscope.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "write OpenTelemetry spans as JSON to this file")
}

// GetConfig returns the configuration loaded for the running command.
func GetConfig() *config.Config {
	return cfg
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func shutdownTracing() error {
	if traceShutdown == nil {
		return nil
	}
	err := traceShutdown(context.Background())
	traceShutdown = nil
	if traceOut != nil {
		_ = traceOut.Close()
		traceOut = nil
	}
	return err
}
