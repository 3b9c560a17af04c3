package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage"
)

func settingsCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or persist tracker tunables in the ledger database.",
		Long:  "Persisted settings override environment variables on the next tracker start.",
	}
	cmd.AddCommand(settingsShowCmd(st), settingsSetCmd(st))
	return cmd
}

func (st *cliState) settingsStore(store storage.LedgerStore) (config.SettingsStore, error) {
	s, ok := store.(config.SettingsStore)
	if !ok {
		return nil, fmt.Errorf("the %s storage engine has no settings table", store.Backend())
	}
	return s, nil
}

func settingsShowCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective tracker tunables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := st.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cfg := st.cfg
			if s, ok := store.(config.SettingsStore); ok {
				if cfg, err = config.LoadConfigFromStore(cmd.Context(), s); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "grace_period=%s\nduration_policy=%s\n",
				cfg.Tracker.GracePeriod, cfg.Tracker.DurationPolicy)
			return err
		},
	}
}

func settingsSetCmd(st *cliState) *cobra.Command {
	var (
		grace  time.Duration
		policy string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Persist the grace period and duration policy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := presence.ParseDurationPolicy(policy); err != nil {
				return err
			}
			if grace < 0 {
				return fmt.Errorf("grace period must be >= 0, got %v", grace)
			}

			store, err := st.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			s, err := st.settingsStore(store)
			if err != nil {
				return err
			}
			cfg := *st.cfg
			cfg.Tracker.GracePeriod = grace
			cfg.Tracker.DurationPolicy = policy
			if err := cfg.SaveToStore(cmd.Context(), s); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved grace_period=%s duration_policy=%s\n", grace, policy)
			return err
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 3*time.Second, "Maximum gap between detections before a departure.")
	cmd.Flags().StringVar(&policy, "policy", string(presence.DurationToLastSeen), "Duration policy: last_seen or sweep.")
	return cmd
}
