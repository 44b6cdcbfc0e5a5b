package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/certbench/internal/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports usable for UART capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		jsonOut, _ := cmd.Flags().GetBool("json")

		ports, err := serial.ListPorts(!all)
		if err != nil {
			return err
		}
		if jsonOut {
			if ports == nil {
				ports = []serial.PortInfo{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ports)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p.String())
		}
		return nil
	},
}

func init() {
	portsCmd.Flags().Bool("all", false, "include non-USB ports")
	portsCmd.Flags().Bool("json", false, "print ports as JSON")
}
