package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/device"
	"github.com/buckleypaul/certbench/internal/store"
)

var fastbootCmd = &cobra.Command{
	Use:   "fastboot",
	Short: "Bootloader helpers: list, flash and reboot devices in fastboot mode",
}

var fastbootDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices in fastboot mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := workspace()
		if err != nil {
			return err
		}
		devices, err := newFastboot(cfg).Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices in fastboot mode.")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-24s %s\n", d.Serial, d.State)
		}
		return nil
	},
}

var fastbootFlashCmd = &cobra.Command{
	Use:   "flash <partition> <image>",
	Short: "Flash an image to a partition and record it in the flash history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, err := workspace()
		if err != nil {
			return err
		}
		partition := args[0]
		image, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}

		logger := newLogger(cfg, os.Stderr)
		logger.Info("flashing", "partition", partition, "image", image, "serial", cfg.DeviceSerial)

		start := time.Now()
		flashErr := newFastboot(cfg).Flash(cmd.Context(), cfg.DeviceSerial, partition, image)
		rec := store.FlashRecord{
			Serial:    cfg.DeviceSerial,
			Partition: partition,
			Image:     image,
			Timestamp: start,
			Success:   flashErr == nil,
			Duration:  time.Since(start).Round(time.Millisecond).String(),
		}
		if err := store.New(config.DataDir(root)).AddFlash(rec); err != nil {
			logger.Warn("failed to record flash", "err", err)
		}
		if flashErr != nil {
			return flashErr
		}
		fmt.Printf("Flashed %s in %s\n", partition, rec.Duration)
		return nil
	},
}

var fastbootRebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot out of the bootloader",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := workspace()
		if err != nil {
			return err
		}
		return newFastboot(cfg).Reboot(cmd.Context(), cfg.DeviceSerial)
	},
}

func init() {
	fastbootCmd.AddCommand(fastbootDevicesCmd)
	fastbootCmd.AddCommand(fastbootFlashCmd)
	fastbootCmd.AddCommand(fastbootRebootCmd)
}

func newFastboot(cfg config.Config) *device.Fastboot {
	return device.NewFastboot(device.ResolveTool("fastboot", cfg.FastbootPath), device.ExecRunner{})
}
