package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/app"
	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/feed"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/internal/storage/jsonfile"
	"github.com/scrypster/dwell/pkg/types"
)

func replayCmd(st *cliState) *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "replay <ticks.jsonl|->",
		Short: "Run a recorded feed through the tracker and print every departure.",
		Long: "Each line of the feed is a tick: either {\"at\": RFC3339, \"detected\": [ids]} " +
			"or a bare array of ids. Recorded times are kept and no sweep ticks are injected. " +
			"Without --persist the replay starts from an empty scratch ledger.",
		Example: "dwellctl replay session.jsonl\ncat session.jsonl | dwellctl replay -",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *st.cfg
			cfg.Feed.Source = args[0]

			ec, err := app.EngineConfig(&cfg)
			if err != nil {
				return err
			}
			cat, err := app.LoadCatalog(&cfg)
			if err != nil {
				return err
			}

			var store storage.LedgerStore
			if persist {
				store, err = st.openStore()
			} else {
				var scratch string
				scratch, err = os.MkdirTemp("", "dwell-replay-")
				if err != nil {
					return err
				}
				defer func() { _ = os.RemoveAll(scratch) }()
				store, err = jsonfile.NewLedgerStore(scratch)
			}
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			departures := 0
			printer := presence.ListenerFuncs{
				Departure: func(ev types.DepartureEvent) {
					mu.Lock()
					defer mu.Unlock()
					departures++
					_, _ = fmt.Fprintf(out, "%s stayed %.2fs - total %.2fs\n",
						cat.DisplayName(ev.Entity), ev.DurationSeconds, ev.TotalSecondsAfter)
				},
			}

			ctx := cmd.Context()
			eng, err := engine.NewPresenceEngine(ctx, ec, cat, store, engine.WithListener(printer))
			if err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}

			var feedErr error
			if args[0] == "-" {
				feedErr = feed.PushAll(ctx, eng.Queue(), cmd.InOrStdin())
			} else {
				feedErr = app.RunFeed(ctx, &cfg, eng, nil)
			}
			if err := eng.Shutdown(ctx); err != nil {
				return err
			}
			if feedErr != nil {
				return feedErr
			}

			stats := eng.Stats()
			mu.Lock()
			defer mu.Unlock()
			_, err = fmt.Fprintf(out, "replayed %d ticks: %d arrivals, %d departures, %d still present\n",
				stats.TicksProcessed, stats.Arrivals, departures, stats.OpenSessions)
			return err
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "Fold the replay into the configured ledger instead of a scratch one.")
	return cmd
}
