package main

import (
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/app"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/storage"
)

// cliState carries the configuration loaded before every subcommand.
type cliState struct {
	cfg     *config.Config
	verbose bool
}

func rootCmd() *cobra.Command {
	st := &cliState{}
	cmd := &cobra.Command{
		Use:           "dwellctl",
		Short:         "Inspect, replay and back up the dwell presence ledger.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !st.verbose {
				log.SetOutput(io.Discard)
			}
			if err := config.LoadDotEnv(); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "Show component logs on stderr.")

	cmd.AddCommand(
		replayCmd(st),
		statsCmd(st),
		visitsCmd(st),
		injectCmd(st),
		backupCmd(st),
		settingsCmd(st),
	)
	return cmd
}

// openStore opens the configured ledger backend. The caller closes it.
func (st *cliState) openStore() (storage.LedgerStore, error) {
	store, err := app.OpenStore(st.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", st.cfg.Storage.StorageEngine, err)
	}
	return store, nil
}
