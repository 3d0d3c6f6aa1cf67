package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dukerupert/navsync/internal/apiclient"
	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/model"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and delete server backups",
	}

	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupListCmd(),
		newBackupRestoreCmd(),
		newBackupDeleteCmd(),
	)

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Back up the local dataset now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backupType, err := model.ParseBackupType(strings.ToUpper(typ))
			if err != nil {
				return err
			}

			cs, err := openClientSession()
			if err != nil {
				return err
			}
			defer cs.Close()

			payload, err := cs.dataset.Export(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading %s: %w", cs.dataset.Path(), err)
			}
			if payload.Data.IsEmpty() {
				return fmt.Errorf("%s holds no bookmarks; nothing to back up", cs.dataset.Path())
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("encoding payload: %w", err)
			}

			rec, err := cs.api.CreateBackup(cmd.Context(), raw, backupType)
			if err != nil {
				return explain("backup failed", err)
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Server already holds this content; no backup created.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created backup %d (%s, %s).\n", rec.ID, rec.Name, humanize.Bytes(uint64(rec.Size)))
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", string(model.BackupTypeManual), "backup type: manual or auto")

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List server backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, err := openClientSession()
			if err != nil {
				return err
			}
			defer cs.Close()

			records, err := cs.api.ListBackups(cmd.Context())
			if err != nil {
				return explain("listing backups failed", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tSIZE\tCREATED")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Name, humanize.Bytes(uint64(r.Size)), humanize.Time(r.Created()))
			}
			return w.Flush()
		},
	}
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the local dataset with a server backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBackupID(args[0])
			if err != nil {
				return err
			}

			cs, err := openClientSession()
			if err != nil {
				return err
			}
			defer cs.Close()

			ctx := cmd.Context()
			content, err := cs.api.RestoreBackup(ctx, id)
			if err != nil {
				return explain("restore failed", err)
			}
			latestAuto, err := cs.api.LatestAuto(ctx)
			if err != nil {
				return explain("restore failed", err)
			}
			if err := cs.dataset.Import(ctx, content); err != nil {
				return fmt.Errorf("importing backup %d: %w", id, err)
			}

			local, err := cs.dataset.Export(ctx)
			if err != nil {
				return err
			}
			digest, err := canonical.Digest(local.Data)
			if err != nil {
				return err
			}
			synced, err := cs.state.RecordRestore(ctx, id, digest, latestAuto, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored backup %d into %s (%d websites).\n", id, cs.dataset.Path(), len(local.Data.Websites))
			if !synced {
				fmt.Fprintln(out, "The agent will upload it as the newest automatic backup.")
			}
			return nil
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a server backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBackupID(args[0])
			if err != nil {
				return err
			}

			cs, err := openClientSession()
			if err != nil {
				return err
			}
			defer cs.Close()

			if err := cs.api.DeleteBackup(cmd.Context(), id); err != nil {
				return explain("delete failed", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted backup %d.\n", id)
			return nil
		},
	}
}

func parseBackupID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid backup id %q", s)
	}
	return id, nil
}

// explain turns API errors into a message that says what to do next.
func explain(action string, err error) error {
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		return fmt.Errorf("%s: backup not found; run 'navsync backup list' to see available ids", action)
	case errors.Is(err, apiclient.ErrUnavailable):
		return fmt.Errorf("%s: server unavailable at %s; check that it is running and try again: %w", action, cfg.Client.ServerURL, err)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}
