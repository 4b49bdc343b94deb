package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/marcus/evstream/internal/output"
	"github.com/marcus/evstream/internal/store"
)

type infoJSON struct {
	Path          string           `json:"path"`
	Events        int64            `json:"events"`
	MostRecentSeq int64            `json:"most_recent_seq"`
	Sources       map[string]int64 `json:"sources"`
}

var infoCmd = &cobra.Command{
	Use:     "info",
	Short:   "Show store location and event counts",
	GroupID: "store",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats(cmd.Context())
		if err != nil {
			output.Error("read stats: %v", err)
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(infoJSON{
				Path:          st.Path(),
				Events:        stats.Count,
				MostRecentSeq: stats.MostRecentSeq,
				Sources:       stats.Sources,
			})
		}
		for _, line := range formatInfo(st.Path(), stats) {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(infoCmd)
}

func formatInfo(path string, stats store.Stats) []string {
	lines := []string{
		output.KeyValue("store", path),
		output.KeyValue("events", output.FormatCount(stats.Count)),
		output.KeyValue("last seq", stats.MostRecentSeq),
	}
	sources := make([]string, 0, len(stats.Sources))
	for src := range stats.Sources {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		label := src
		if label == "" {
			label = "unknown"
		}
		lines = append(lines, output.KeyValue("  "+label, output.FormatCount(stats.Sources[src])))
	}
	return lines
}
