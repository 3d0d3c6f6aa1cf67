package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/dukerupert/navsync/internal/canonical"
	"github.com/dukerupert/navsync/internal/conflict"
)

const (
	resolveRemote = "remote"
	resolveLocal  = "local"
	resolveLater  = "later"
)

func newSyncCmd() *cobra.Command {
	var (
		resolve         string
		newRegistration bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local dataset with the latest server backup",
		Long: `Compare the local dataset with the latest server backup and act on it.

Empty local data is restored from the server. A new registration pushes the
local data. When both sides hold different content you are asked which side
to keep, or --resolve picks one non-interactively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch resolve {
			case "", resolveRemote, resolveLocal:
			default:
				return fmt.Errorf("--resolve must be %q or %q", resolveRemote, resolveLocal)
			}
			return runSync(cmd.Context(), resolve, newRegistration)
		},
	}

	cmd.Flags().StringVar(&resolve, "resolve", "", "resolve a conflict without prompting: remote or local")
	cmd.Flags().BoolVar(&newRegistration, "new-registration", false, "treat the account as newly registered and push local data")

	return cmd
}

func runSync(ctx context.Context, resolve string, newRegistration bool) error {
	logger, closer := buildLogger()
	defer closer.Close()

	cs, err := openClientSession()
	if err != nil {
		return err
	}
	defer cs.Close()

	// Unstarted worker: hashing runs inline on the calling goroutine.
	hasher := canonical.NewWorker(cfg.Client.HashTimeout.Duration, logger)
	resolver := conflict.NewResolver(cs.dataset, cs.api, hasher, cs.state, nil, logger.With("component", "conflict"))

	res, err := resolver.Check(ctx, newRegistration)
	if err != nil {
		return fmt.Errorf("sync check failed: %w", err)
	}

	switch res.Action {
	case conflict.ActionNone:
		fmt.Println("Nothing to sync.")
		return nil
	case conflict.ActionMigrated:
		fmt.Printf("Local data uploaded as backup %d.\n", res.Record.ID)
		return nil
	case conflict.ActionRestored:
		fmt.Printf("Local data restored from the server into %s.\n", cs.dataset.Path())
		return nil
	case conflict.ActionInSync:
		fmt.Println("Local and server data are in sync.")
		return nil
	}

	c := res.Conflict
	fmt.Printf("Local data (%d websites) differs from the latest server backup %d (%d websites, %s).\n",
		c.LocalCount, c.RemoteID, c.RemoteCount, humanize.Time(c.RemoteCreatedAt))

	if resolve == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return errors.New("conflict not resolved: rerun with --resolve=remote or --resolve=local")
		}
		resolve, err = promptResolution(ctx, c)
		if err != nil {
			return err
		}
	}

	switch resolve {
	case resolveRemote:
		if err := resolver.UseRemote(ctx); err != nil {
			return fmt.Errorf("restoring server backup: %w", err)
		}
		fmt.Printf("Local data replaced with server backup %d.\n", c.RemoteID)
	case resolveLocal:
		rec, err := resolver.KeepLocal(ctx)
		if err != nil {
			return fmt.Errorf("uploading local data: %w", err)
		}
		if rec == nil {
			fmt.Println("Local data kept; the server already had it.")
		} else {
			fmt.Printf("Local data kept and uploaded as backup %d.\n", rec.ID)
		}
	default:
		fmt.Println("Conflict left unresolved; auto backup stays suspended.")
	}
	return nil
}

func promptResolution(ctx context.Context, c *conflict.Conflict) (string, error) {
	choice := resolveLater
	sel := huh.NewSelect[string]().
		Title("Which data do you want to keep?").
		Description(fmt.Sprintf("Local: %d websites. Server: %d websites.", c.LocalCount, c.RemoteCount)).
		Options(
			huh.NewOption("Use the server backup", resolveRemote),
			huh.NewOption("Keep local data and upload it", resolveLocal),
			huh.NewOption("Decide later", resolveLater),
		).
		Value(&choice)

	if err := huh.NewForm(huh.NewGroup(sel)).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return resolveLater, nil
		}
		return "", fmt.Errorf("prompt: %w", err)
	}
	return choice, nil
}
