package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/engine"
	"github.com/Norgate-AV/xcwatch/internal/history"
	"github.com/Norgate-AV/xcwatch/internal/tracker"
)

var watchCmd = &cobra.Command{
	Use:          "watch",
	Short:        "Watch DerivedData for build activity",
	Long:         `Run the monitoring engine until interrupted, reporting build starts and finishes as they are detected.`,
	RunE:         runWatch,
	SilenceUsage: true,
}

func init() {
	watchCmd.Flags().Bool("json", false, "Emit events as line-delimited JSON")
	watchCmd.Flags().Bool("no-history", false, "Do not record finished builds")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg.Verbose)

	asJSON, _ := cmd.Flags().GetBool("json")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	opts := engine.Options{}

	if !noHistory {
		store, err := history.Open("")
		if err != nil {
			slog.Warn("history store unavailable, builds will not be recorded", "error", err)
		} else {
			defer store.Close()
			opts.Store = store
		}
	}

	eng := engine.New(cfg, opts)
	events := eng.Subscribe()
	changed := eng.SubscribeChanged()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				printEvent(ev, asJSON)
			case at := <-changed:
				if !asJSON {
					fmt.Printf("%s  derived data changed\n", at.Format("15:04:05"))
				}
			}
		}
	}()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", cfg.DerivedDataPath)

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

// jsonEvent is the wire shape of the --json output.
type jsonEvent struct {
	Kind      string    `json:"kind"`
	Project   string    `json:"project"`
	Time      time.Time `json:"time"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Succeeded *bool     `json:"succeeded,omitempty"`
}

func printEvent(ev tracker.Event, asJSON bool) {
	if asJSON {
		out := jsonEvent{
			Kind:    ev.Kind.String(),
			Project: ev.DisplayName,
			Time:    ev.Time,
		}

		if ev.Kind == tracker.Finished {
			out.Duration = ev.Duration.Seconds()
			succeeded := ev.Succeeded
			out.Succeeded = &succeeded
		}

		_ = json.NewEncoder(os.Stdout).Encode(out)
		return
	}

	stamp := ev.Time.Format("15:04:05")

	switch ev.Kind {
	case tracker.Started:
		fmt.Printf("%s  %s: build started\n", stamp, ev.DisplayName)
	case tracker.Finished:
		outcome := "succeeded"
		if !ev.Succeeded {
			outcome = "failed"
		}

		fmt.Printf("%s  %s: build %s after %s\n", stamp, ev.DisplayName, outcome, ev.Duration.Round(time.Second))
	}
}

// setupLogging routes structured logs to stderr, keeping stdout for
// command output.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
