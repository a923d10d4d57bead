package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/transfa/interbank-service/internal/config"
)

// runtime carries state shared by every subcommand once PersistentPreRunE
// has loaded configuration.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:           "interbankd",
		Short:         "Interbank transfer service",
		Long:          "interbankd settles transfers between local accounts and exchanges signed transfers with other banks registered at the central bank.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(".")
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			rt.cfg = cfg
			rt.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(rt.logger)
			return nil
		},
		// Running the binary without a subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rt)
		},
	}

	root.AddCommand(
		newServeCommand(rt),
		newMigrateCommand(rt),
		newGenerateKeysCommand(rt),
		newRegisterBankCommand(rt),
		newCreateUserCommand(rt),
		newOpenAccountCommand(rt),
	)

	return root
}
