package cmd

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/evstream/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored events as JSONL",
	Long: `Write every stored event after --after, oldest first, one JSON object per
line. The output can be fed back to "evstream import".`,
	GroupID: "store",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		w := bufio.NewWriter(os.Stdout)
		if _, err := exportEvents(cmd.Context(), st, w, after, limit); err != nil {
			return err
		}
		return w.Flush()
	},
}

func init() {
	exportCmd.Flags().Int64("after", 0, "Only events with a sequence id greater than this")
	exportCmd.Flags().IntP("limit", "n", 0, "Stop after this many events (0 for all)")
	rootCmd.AddCommand(exportCmd)
}

// exportEvents writes stored payloads after the given sequence id and
// returns the last sequence id written.
func exportEvents(ctx context.Context, st *store.Store, w io.Writer, after int64, limit int) (int64, error) {
	txn, err := st.BeginRead(ctx)
	if err != nil {
		return after, err
	}
	defer txn.Close()

	last := after
	n := 0
	var writeErr error
	err = txn.ForEachAfter(after, func(rec store.Record) bool {
		if _, writeErr = w.Write(rec.Payload); writeErr != nil {
			return false
		}
		if _, writeErr = io.WriteString(w, "\n"); writeErr != nil {
			return false
		}
		last = rec.Seq
		n++
		return limit <= 0 || n < limit
	})
	if err != nil {
		return last, err
	}
	return last, writeErr
}
