package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/logcat"
)

var logcatCmd = &cobra.Command{
	Use:   "logcat",
	Short: "Stream device and UART log records to stdout",
	Long: `Logcat supervises the device, opens its log stream once ready and prints
every record until interrupted. With --uart the serial console is captured
alongside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		uart, _ := cmd.Flags().GetString("uart")
		baud, _ := cmd.Flags().GetInt("baud")
		grep, _ := cmd.Flags().GetString("grep")
		minSev, _ := cmd.Flags().GetString("min")

		root, cfg, err := workspace()
		if err != nil {
			return err
		}
		cfg.AutoOpenLogStream = true
		if uart != "" {
			cfg.UARTPort = uart
		}
		if baud > 0 {
			cfg.UARTBaudRate = baud
		}

		b, err := newBench(root, cfg, newLogger(cfg, os.Stderr), nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		recs, unsubscribe := b.SubscribeLogs(1024)
		defer unsubscribe()

		done := make(chan error, 1)
		go func() { done <- b.Run(ctx) }()

		filter := logcat.Filter{Text: grep}
		if minSev != "" {
			filter.Severities = atLeast(logcat.ParseSeverity(minSev))
		}
		for {
			select {
			case err := <-done:
				return err
			case r := <-recs:
				if filter.Match(r) {
					fmt.Println(formatLine(r))
				}
			}
		}
	},
}

func init() {
	logcatCmd.Flags().String("uart", "", "serial port to capture as well (overrides uart_port)")
	logcatCmd.Flags().Int("baud", 0, "UART baud rate (overrides uart_baud_rate)")
	logcatCmd.Flags().String("grep", "", "only print records whose tag or message contains this text")
	logcatCmd.Flags().String("min", "", "minimum severity: debug, info, warn, error")
}

// atLeast returns the severity set from floor through Error. Pass is always kept.
func atLeast(floor logcat.Severity) map[logcat.Severity]bool {
	set := map[logcat.Severity]bool{logcat.Pass: true}
	for s := floor; s <= logcat.Error; s++ {
		set[s] = true
	}
	return set
}
