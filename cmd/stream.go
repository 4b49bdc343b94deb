package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/evstream/internal/ingest"
	"github.com/marcus/evstream/internal/output"
	"github.com/marcus/evstream/internal/store"
	evsync "github.com/marcus/evstream/internal/sync"
	"github.com/marcus/evstream/internal/transport"
	"github.com/marcus/evstream/internal/tui/monitor"
	"github.com/marcus/evstream/internal/watch"
)

const (
	pingInterval    = 30 * time.Second
	monitorInterval = 500 * time.Millisecond
	monitorLogFile  = "stream.log"
)

// directionFlag is the --dir value. Invalid directions fail at parse time.
type directionFlag struct {
	dir evsync.Direction
}

var _ pflag.Value = (*directionFlag)(nil)

func (f *directionFlag) String() string {
	if f.dir == "" {
		return string(evsync.Down)
	}
	return string(f.dir)
}

func (f *directionFlag) Set(s string) error {
	d, err := evsync.ParseDirection(s)
	if err != nil {
		return err
	}
	f.dir = d
	return nil
}

func (f *directionFlag) Type() string { return "up|down|both" }

func (f *directionFlag) Direction() evsync.Direction {
	if f.dir == "" {
		return evsync.Down
	}
	return f.dir
}

var streamDir directionFlag

var streamCmd = &cobra.Command{
	Use:   "stream <url[,url...]>",
	Short: "Stream events to and from relays",
	Long: `Open a websocket connection to each relay and keep it running.

  --dir down   subscribe to each relay and store what it sends (default)
  --dir up     send every event written to the local store after startup
  --dir both   do both; events received from a relay are not echoed back to it

Connections reconnect after network failures. A relay that sends a malformed
message is dropped; the others keep running.`,
	Example: `  evstream stream wss://relay.example.com
  evstream stream --dir both wss://a.example.com,wss://b.example.com
  evstream stream --dir up --monitor ws://localhost:7777`,
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	RunE:    runStream,
}

func init() {
	f := streamCmd.Flags()
	f.Var(&streamDir, "dir", "Direction of event flow: up, down or both")
	f.Duration("debounce", 0, "Quiet period after a store write before uploading (default from config)")
	f.Duration("reconnect", 0, "Minimum time between connection attempts per relay (default from config)")
	f.Duration("dedup-ttl", 0, "How long a downloaded id is remembered for echo suppression (default from config)")
	f.String("sub", "", "Subscription id sent in REQ (default from config)")
	f.Bool("monitor", false, "Show a live status view; logs go to stream.log in the data dir")
	rootCmd.AddCommand(streamCmd)
}

// applyStreamFlags overlays explicitly set stream flags on the loaded config.
func applyStreamFlags(flags *pflag.FlagSet) error {
	if flags.Changed("debounce") {
		cfg.Debounce, _ = flags.GetDuration("debounce")
	}
	if flags.Changed("reconnect") {
		cfg.ReconnectInterval, _ = flags.GetDuration("reconnect")
	}
	if flags.Changed("dedup-ttl") {
		cfg.DedupTTL, _ = flags.GetDuration("dedup-ttl")
	}
	if flags.Changed("sub") {
		cfg.SubscriptionID, _ = flags.GetString("sub")
	}
	return cfg.Validate()
}

func runStream(cmd *cobra.Command, args []string) error {
	peers, err := evsync.ParsePeers(args[0])
	if err != nil {
		return err
	}
	if err := applyStreamFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	useMonitor, _ := cmd.Flags().GetBool("monitor")

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()
	st.LockTimeout = cfg.WriteLockTimeout

	if useMonitor {
		logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, monitorLogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		setupLogging(logFile, cfg.LogLevel, cfg.LogFormat)
	}

	pipe := ingest.New(st, cfg.IngestQueueSize, cfg.IngestBatchSize)
	defer pipe.Close()

	eng, err := evsync.New(evsync.Options{
		Peers:             peers,
		Direction:         streamDir.Direction(),
		SubscriptionID:    cfg.SubscriptionID,
		ReconnectInterval: cfg.ReconnectInterval,
		DedupTTL:          cfg.DedupTTL,
		NewChangeSource: func() (evsync.ChangeSource, error) {
			n, err := watch.New(st.WatchPath(), cfg.Debounce)
			if err != nil {
				return nil, err
			}
			return n, nil
		},
	}, st, pipe, dialFunc(&transport.Dialer{PingInterval: pingInterval}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if useMonitor {
		runErr = runWithMonitor(ctx, stop, eng, pipe)
	} else {
		runErr = eng.Run(ctx)
	}
	interrupted := ctx.Err() != nil

	pipe.Close()
	logSummary(eng, pipe.Stats())
	if !useMonitor {
		printSummary(eng.Snapshot(), pipe.Stats())
	}

	// Interrupting is the normal way to stop; peers that were dropped for
	// protocol errors have already been logged.
	if runErr != nil && !interrupted {
		return runErr
	}
	return nil
}

// dialFunc adapts the websocket dialer to the engine's DialFunc.
func dialFunc(d *transport.Dialer) evsync.DialFunc {
	return func(ctx context.Context, url string) (evsync.Conn, error) {
		c, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// runWithMonitor runs the engine under the monitor TUI. Quitting the TUI
// stops the engine; the engine exiting on its own closes the TUI.
func runWithMonitor(ctx context.Context, stop context.CancelFunc, eng *evsync.Engine, pipe *ingest.Pipeline) error {
	src := monitor.SourceFunc(func() monitor.Status {
		s := monitor.Status{Peers: eng.Snapshot(), Ingest: pipe.Stats()}
		if state := eng.State(); state != nil {
			s.Cursor = state.Cursor()
		}
		return s
	})
	model := monitor.NewModel(monitor.Header{
		Direction: string(eng.Role().Direction()),
		DataDir:   cfg.DataDir,
		RunID:     eng.RunID(),
	}, src, monitorInterval)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	engErr := make(chan error, 1)
	go func() {
		err := eng.Run(ctx)
		p.Send(monitor.DoneMsg{Err: err})
		engErr <- err
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		slog.Error("monitor", "err", err)
	}
	stop()
	return <-engErr
}

func logSummary(eng *evsync.Engine, in ingest.Stats) {
	for _, s := range eng.Snapshot() {
		slog.Info("peer summary",
			"peer", s.Name,
			"connects", s.Connects,
			"received", s.Received,
			"sent", s.Sent,
			"suppressed", s.Suppressed,
			"rejected", s.Rejected,
			"err", s.LastError)
	}
	slog.Info("ingest summary",
		"accepted", in.Accepted,
		"duplicates", in.Duplicates,
		"rejected", in.Rejected,
		"failed", in.Failed)
}

// printSummary prints one line per peer after the stream stops.
func printSummary(peers []evsync.PeerSnapshot, in ingest.Stats) {
	for _, p := range peers {
		fmt.Println(formatPeerSummary(p))
	}
	fmt.Println(output.KeyValue("stored", fmt.Sprintf("%s new, %s duplicate, %s rejected",
		output.FormatCount(in.Accepted), output.FormatCount(in.Duplicates), output.FormatCount(in.Rejected))))
}

func formatPeerSummary(p evsync.PeerSnapshot) string {
	line := fmt.Sprintf("%s %s %s ↓%d ↑%d",
		output.Title(truncateID(p.Name, 40)),
		output.Subtle(fmt.Sprintf("connects:%d", p.Connects)),
		output.FormatPhase(p.Phase.String()),
		p.Received, p.Sent)
	if p.Suppressed > 0 {
		line += output.Subtle(fmt.Sprintf(" skipped:%d", p.Suppressed))
	}
	if p.LastError != "" {
		line += " " + output.Subtle("err: "+truncateID(p.LastError, 80))
	}
	return line
}

func truncateID(id string, max int) string {
	if len(id) <= max {
		return id
	}
	return id[:max-3] + "..."
}
