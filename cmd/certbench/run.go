package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/bench"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logcat"
	"github.com/buckleypaul/certbench/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run <plugin-id>",
	Short: "Run one test plugin against the attached device",
	Long: `Run waits for a ready device, executes every test of the plugin and
writes a JUnit XML report to the output directory. Plugin IDs are
<folder>/<unit>; list them with "certbench plugins".

The exit status is non-zero when any test fails or errors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		jsonOut, _ := cmd.Flags().GetBool("json")
		return runPlugin(cmd.Context(), args[0], wait, jsonOut)
	},
}

func init() {
	runCmd.Flags().Duration("wait", time.Minute, "how long to wait for a ready device")
	runCmd.Flags().Bool("json", false, "print the result as JSON")
}

func runPlugin(ctx context.Context, id string, wait time.Duration, jsonOut bool) error {
	root, cfg, err := workspace()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	b, err := newBench(root, cfg, logger, nil)
	if err != nil {
		return err
	}

	ready := make(chan struct{})
	var once sync.Once
	b.OnConnectionChange(func(s supervisor.State) {
		if s == supervisor.Ready {
			once.Do(func() { close(ready) })
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	if !jsonOut {
		go printNarration(ctx, b)
	}

	select {
	case <-ready:
	case <-time.After(wait):
		return errors.Errorf(errors.KindUnavailable, "no ready device after %s", wait)
	case <-ctx.Done():
		return ctx.Err()
	}

	res, err := b.Runner.Run(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Printf("\nReport: %s\n", res.Report)
	}
	if !res.Passed() {
		return errors.Errorf(errors.KindExecution, "%s: %d tests, %d failures, %d errors",
			res.PluginID, res.Tests, res.Failures, res.Errors)
	}
	return nil
}

// printNarration echoes test and plugin records while a run is in progress.
func printNarration(ctx context.Context, b *bench.Bench) {
	recs, unsubscribe := b.SubscribeLogs(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-recs:
			if !ok {
				return
			}
			if r.Tag == logcat.TagTest || r.Tag == logcat.TagPlugin || r.Tag == logcat.TagDevice {
				fmt.Println(formatLine(r))
			}
		}
	}
}

func formatLine(r logcat.Record) string {
	stamp := r.Timestamp
	if stamp == "" {
		stamp = "-"
	}
	return fmt.Sprintf("%s %-5s %s: %s", stamp, r.Severity, r.Tag, r.Message)
}
