package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/transfa/interbank-service/internal/app"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/pkg/registryclient"
)

func newMigrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer repo.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func newGenerateKeysCommand(rt *runtime) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "generate-keys",
		Short: "Generate the RSA key pair used to sign outgoing transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			settings, err := app.GenerateKeys(cmd.Context(), repo, rt.cfg.JWTKeyID, force)
			if err != nil {
				if errors.Is(err, app.ErrKeysExist) {
					return fmt.Errorf("%w; pass --force to replace them", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated signing keys (kid %s).\n", settings.KeyID)
			fmt.Fprintln(cmd.OutOrStdout(), settings.PublicKeyPEM)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace existing keys")
	return cmd
}

func newRegisterBankCommand(rt *runtime) *cobra.Command {
	var ownerInfo string
	var force bool
	cmd := &cobra.Command{
		Use:   "register-bank",
		Short: "Register this bank with the central bank registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			registry := registryclient.NewClient(rt.cfg.CentralBankURL, "", rt.cfg.HTTPClientTimeout())
			settings, err := app.RegisterBank(cmd.Context(), repo, registry, rt.cfg, ownerInfo, force)
			if err != nil {
				if errors.Is(err, app.ErrAlreadyRegistered) {
					return fmt.Errorf("%w; pass --force to register again", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q with prefix %s.\n", settings.BankName, settings.BankPrefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerInfo, "owner-info", "", "owner information sent to the registry (defaults to OWNER_INFO)")
	cmd.Flags().BoolVar(&force, "force", false, "register even if credentials are already stored")
	return cmd
}

func newCreateUserCommand(rt *runtime) *cobra.Command {
	var username, fullName string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a bank customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			user, err := app.NewLedger(repo, rt.logger).CreateUser(cmd.Context(), username, fullName)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "unique login name")
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name shown to counterparties")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("full-name")
	return cmd
}

func newOpenAccountCommand(rt *runtime) *cobra.Command {
	var username, currency, balance string
	cmd := &cobra.Command{
		Use:   "open-account",
		Short: "Open an account for an existing user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := decimal.NewFromString(strings.TrimSpace(balance))
			if err != nil {
				return fmt.Errorf("invalid --balance %q: %w", balance, err)
			}

			repo, err := openRepository(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			identity, err := app.LoadBankIdentity(cmd.Context(), repo, rt.cfg)
			if err != nil {
				return err
			}
			account, err := app.NewLedger(repo, rt.logger).OpenAccount(cmd.Context(), identity.Prefix, username, currency, initial)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), account)
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "owner of the new account")
	cmd.Flags().StringVar(&currency, "currency", domain.DefaultCurrency, "account currency")
	cmd.Flags().StringVar(&balance, "balance", "0", "initial balance")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
