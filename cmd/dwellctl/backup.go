package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/dwell/internal/app"
	"github.com/scrypster/dwell/internal/backup"
	"github.com/scrypster/dwell/internal/storage"
)

func backupCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore ledger backups.",
	}
	cmd.AddCommand(backupNowCmd(st), backupListCmd(st), backupRestoreCmd(st), backupHealthCmd(st))
	return cmd
}

// withService opens the ledger and a backup service reading from it.
func (st *cliState) withService(fn func(storage.LedgerStore, *backup.BackupService) error) error {
	store, err := st.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	svc, err := backup.NewBackupService(app.BackupConfig(st.cfg, backup.StoreSource(store)))
	if err != nil {
		return err
	}
	return fn(store, svc)
}

func backupNowCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Back up the persisted ledger once and apply retention.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withService(func(_ storage.LedgerStore, svc *backup.BackupService) error {
				res, err := svc.BackupNow(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "backup %s: %d entities, %d bytes, verified=%v\n",
					res.Path, res.Entities, res.Size, res.Verified)
				return err
			})
		},
	}
}

func backupListCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withService(func(_ storage.LedgerStore, svc *backup.BackupService) error {
				backups, err := svc.ListBackups()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "TIMESTAMP\tSIZE\tPATH")
				for _, b := range backups {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Timestamp.Format(time.RFC3339), b.Size, b.Path)
				}
				return tw.Flush()
			})
		},
	}
}

func backupRestoreCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the persisted ledger with a backup. Stop the tracker first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withService(func(store storage.LedgerStore, svc *backup.BackupService) error {
				if err := svc.RestoreBackup(cmd.Context(), args[0], store); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "restored %s into the %s ledger\n", args[0], store.Backend())
				return err
			})
		},
	}
}

func backupHealthCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report backup freshness and disk usage as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return st.withService(func(_ storage.LedgerStore, svc *backup.BackupService) error {
				status, err := svc.HealthCheck()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			})
		},
	}
}
