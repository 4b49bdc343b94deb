package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/evstream/internal/ingest"
	"github.com/marcus/evstream/internal/output"
	"github.com/marcus/evstream/internal/store"
)

// maxLineSize bounds a single JSONL event.
const maxLineSize = 4 << 20

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import events from a JSONL file",
	Long: `Read one event object per line from a file (or stdin when no file is
given or the file is "-") and add it to the store. Events are validated
like streamed ones; invalid lines are counted and skipped.`,
	GroupID: "store",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		sourceID := "stdin"
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				output.Error("open %s: %v", args[0], err)
				return err
			}
			defer f.Close()
			r = f
			sourceID = args[0]
		}

		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()
		st.LockTimeout = cfg.WriteLockTimeout

		stats, err := importEvents(st, r, sourceID, cfg.IngestQueueSize, cfg.IngestBatchSize)
		if err != nil {
			output.Error("import: %v", err)
			return err
		}
		output.Success("Imported %s events (%s duplicate, %s rejected, %s failed)",
			output.FormatCount(stats.Accepted), output.FormatCount(stats.Duplicates),
			output.FormatCount(stats.Rejected), output.FormatCount(stats.Failed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// importEvents feeds each non-blank line of r through an ingest pipeline and
// returns its final counts.
func importEvents(w ingest.Writer, r io.Reader, sourceID string, queue, batch int) (ingest.Stats, error) {
	pipe := ingest.New(w, queue, batch)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		payload := make([]byte, len(b))
		copy(payload, b)
		pipe.Submit(ingest.Item{Payload: payload, Source: ingest.SourceImport, SourceID: sourceID})
	}
	pipe.Close()
	stats := pipe.Stats()

	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read line %d: %w", line+1, err)
	}
	slog.Debug("import done", "source", sourceID, "lines", line, "accepted", stats.Accepted)
	return stats, nil
}
