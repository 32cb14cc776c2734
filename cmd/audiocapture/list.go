package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/audiocapture/internal/sessions"
)

var activeOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List processes with audio sessions as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, closer, err := loadConfig()
		if err != nil {
			return err
		}
		defer closer.Close()

		procs, err := sessions.List()
		if err != nil {
			return err
		}
		if activeOnly {
			procs = filterActive(procs)
		}
		if procs == nil {
			procs = []sessions.ProcessInfo{}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(procs)
	},
}

func init() {
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "only list processes currently playing audio")
}

func filterActive(procs []sessions.ProcessInfo) []sessions.ProcessInfo {
	out := procs[:0]
	for _, p := range procs {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}
