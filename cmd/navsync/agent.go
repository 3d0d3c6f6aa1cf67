package main

import (
	"github.com/spf13/cobra"

	"github.com/dukerupert/navsync/internal/agent"
)

func newAgentCmd() *cobra.Command {
	var newRegistration bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Watch the local dataset and back it up automatically",
		Long: `Run the sync client in the foreground.

On start the agent compares the local dataset with the latest server backup.
It then watches the dataset file and creates AUTO backups when the content
changes, at most once per configured interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, closer := buildLogger()
			defer closer.Close()

			cs, err := openClientSession()
			if err != nil {
				return err
			}
			defer cs.Close()

			a := agent.New(agent.Config{
				Scheduler:       schedulerConfig(),
				HashTimeout:     cfg.Client.HashTimeout.Duration,
				NewRegistration: newRegistration,
			}, agent.NewSession(true, cfg.Client.AutoBackup), cs.dataset, cs.api, cs.state, logger)

			logger.Info("navsync agent started",
				"dataset", cs.dataset.Path(),
				"server", cfg.Client.ServerURL,
				"auto_backup", cfg.Client.AutoBackup,
			)
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&newRegistration, "new-registration", false, "treat the account as newly registered and push local data")

	return cmd
}
