package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

func statsCmd(st *cliState) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats [entity]",
		Short: "Print visit counts and dwell totals from the persisted ledger.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := st.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snap, err := store.Load(cmd.Context())
			if errors.Is(err, storage.ErrNotFound) {
				snap = types.LedgerSnapshot{}
			} else if err != nil {
				return err
			}

			if len(args) == 1 {
				id := types.EntityID(args[0])
				s, ok := snap[id]
				if !ok {
					return fmt.Errorf("no ledger entry for %q", id)
				}
				snap = types.LedgerSnapshot{id: s}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			ids := snap.IDs()
			sort.SliceStable(ids, func(i, j int) bool {
				return snap[ids[i]].TotalDwellSeconds > snap[ids[j]].TotalDwellSeconds
			})

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ENTITY\tVISITS\tTOTAL\tLAST SEEN")
			for _, id := range ids {
				s := snap[id]
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%.2fs\t%s\n", id, s.VisitCount, s.TotalDwellSeconds, formatTimePtr(s.LastSeenAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the ledger as JSON.")
	return cmd
}

func visitsCmd(st *cliState) *cobra.Command {
	var (
		since time.Duration
		limit int
	)
	cmd := &cobra.Command{
		Use:   "visits <entity>",
		Short: "List an entity's closed sessions, newest first.",
		Long:  "Visit history is kept by the sqlite and postgres storage engines only.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := st.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			history, ok := store.(storage.DepartureRecorder)
			if !ok {
				return fmt.Errorf("the %s storage engine keeps no visit history", store.Backend())
			}

			q := storage.DepartureQuery{Entity: types.EntityID(args[0]), Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			visits, err := history.ListDepartures(cmd.Context(), q)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STARTED\tDEPARTED\tDURATION\tTOTAL AFTER")
			for _, v := range visits {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%.2fs\t%.2fs\n",
					v.StartedAt.Format(time.RFC3339), v.DepartedAt.Format(time.RFC3339),
					v.DurationSeconds, v.TotalSecondsAfter)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only show visits that ended within this long ago.")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of visits to show.")
	return cmd
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
