package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/feed"
	"github.com/scrypster/dwell/internal/notify"
	"github.com/scrypster/dwell/pkg/types"
)

func injectCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "inject [entity...]",
		Short: "Hand one detection tick to a tracker running with DWELL_FEED=watch.",
		Long:  "With no entities the tick is empty, which only advances time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]types.EntityID, 0, len(args))
			for _, a := range args {
				ids = append(ids, types.EntityID(a))
			}

			w := notify.NewDetectionWriter(st.cfg.Storage.DataPath, nil)
			if err := w.Write(feed.Tick{Detected: ids}); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "queued detection of %d ids in %s\n", len(ids), w.Dir())
			return err
		},
	}
}
