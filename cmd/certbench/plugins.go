package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Scan the plugin folder and list test plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		root, cfg, err := workspace()
		if err != nil {
			return err
		}
		b, err := newBench(root, cfg, newLogger(cfg, os.Stderr), nil)
		if err != nil {
			return err
		}
		res, err := b.RefreshPlugins(cmd.Context())
		if err != nil {
			return err
		}
		for _, f := range res.Failures {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", f.Archive, f.Err)
		}

		plugins := b.Plugins()
		if jsonOut {
			if plugins == nil {
				plugins = []plugin.Plugin{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plugins)
		}

		if len(plugins) == 0 {
			fmt.Printf("No plugins in %s\n", cfg.PluginDir)
			return nil
		}
		fmt.Printf("%-36s %-32s %s\n", "ID", "NAME", "TESTS")
		for _, p := range plugins {
			fmt.Printf("%-36s %-32s %s\n", p.ID, p.DisplayName, strings.Join(p.Tests, ","))
		}
		fmt.Printf("\n%s\n", res.Summary())
		return nil
	},
}

func init() {
	pluginsCmd.Flags().Bool("json", false, "print plugins as JSON")
}
