package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
)

var (
	rootFlag     string
	logLevelFlag string
	serialFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "certbench",
	Short: "Android certification test console",
	Long: `certbench supervises an adb-attached Android device, captures its log
feed and runs certification test plugins against it, writing one JUnit XML
report per run.

Without a subcommand it opens the interactive console.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "workspace root (default: nearest directory with .certbench/, else the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "diagnostic log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&serialFlag, "serial", "s", "", "device serial to use when several are attached")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(logcatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fastbootCmd)
	rootCmd.AddCommand(portsCmd)
}

// workspace resolves the root and merged config, applying global flags.
func workspace() (string, config.Config, error) {
	start := rootFlag
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", config.Config{}, err
		}
		start = cwd
	}
	root, err := config.FindRoot(start)
	if err != nil {
		return "", config.Config{}, err
	}
	cfg := config.Load(root)
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if serialFlag != "" {
		cfg.DeviceSerial = serialFlag
	}
	return root, cfg, nil
}

func newLogger(cfg config.Config, out io.Writer) *log.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Output: out})
}

func newBench(root string, cfg config.Config, logger *log.Logger, m *metrics.Metrics) (*bench.Bench, error) {
	return bench.New(bench.Options{
		Config:  cfg,
		Root:    root,
		Logger:  logger,
		Metrics: m,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
