package cmd

import (
	"github.com/spf13/cobra"

	"pirateq/internal/tui"
)

var monitorAPIAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch live broker status in a terminal UI",
	Long:  `monitor polls a broker's operational HTTP API and renders a live-refreshing worker/queue status table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(monitorAPIAddr)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAPIAddr, "api-addr", "http://127.0.0.1:8080", "broker operational HTTP API address")
}
