package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skeinhq/skein/internal/config"
	"github.com/skeinhq/skein/internal/store"
	"github.com/skeinhq/skein/internal/vault"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage vault secrets",
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretListCmd(), newSecretDeleteCmd())
	return cmd
}

func openKeeper() (*vault.Keeper, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return nil, nil, fmt.Errorf("vault passphrase not configured (set SKEIN_VAULT_PASSPHRASE)")
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return vault.NewKeeper(vault.New(cfg.Vault.Passphrase), db), db, nil
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Encrypt and store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keeper, db, err := openKeeper()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := keeper.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("secret %s stored\n", args[0])
			return nil
		},
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := store.New(cfg.Store)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer db.Close()

			secrets, err := db.ListSecrets()
			if err != nil {
				return err
			}
			for _, sec := range secrets {
				fmt.Println(sec.Name)
			}
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keeper, db, err := openKeeper()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := keeper.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("secret %s deleted\n", args[0])
			return nil
		},
	}
}
