package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/evstream/internal/event"
	"github.com/marcus/evstream/internal/output"
	"github.com/marcus/evstream/internal/store"
)

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Display a stored event",
	GroupID: "store",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := strings.ToLower(strings.TrimSpace(args[0]))
		if !event.ValidID(id) {
			output.Error("%q is not a 64 character hex event id", args[0])
			return event.ErrBadID
		}

		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.Get(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			output.Error("event %s not found", event.ShortID(id))
			return err
		}
		if err != nil {
			return err
		}

		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			fmt.Println(string(rec.Payload))
			return nil
		}

		view, err := eventView(rec)
		if err != nil {
			return err
		}
		rendered, err := output.RenderMarkdown(output.EventMarkdown(view))
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("raw", false, "Print the stored JSON instead of rendering it")
	rootCmd.AddCommand(showCmd)
}

func eventView(rec *store.Record) (output.EventView, error) {
	ev, err := event.Parse(rec.Payload)
	if err != nil {
		return output.EventView{}, err
	}
	return output.EventView{
		Seq:       rec.Seq,
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		Kind:      ev.Kind,
		CreatedAt: time.Unix(ev.CreatedAt, 0),
		Tags:      ev.Tags,
		Content:   ev.Content,
		Source:    rec.Source,
		SourceID:  rec.SourceID,
	}, nil
}
