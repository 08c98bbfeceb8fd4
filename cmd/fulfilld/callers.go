package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openstall/fulfill/storage"
	"github.com/openstall/fulfill/trust"
)

// newCallerCmd administers the trusted caller registry directly against the
// daemon's database. The raw key is printed once at creation and only its
// hash is persisted.
func newCallerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caller",
		Short: "Manage trusted callers",
	}
	cmd.AddCommand(newCallerAddCmd())
	cmd.AddCommand(newCallerRevokeCmd())
	return cmd
}

func newCallerAddCmd() *cobra.Command {
	var (
		scopes  []string
		seller  string
		chainID uint64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a trusted caller and print its key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(scopes) == 0 {
				return fmt.Errorf("at least one --scope is required")
			}

			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			rawKey := hex.EncodeToString(raw)

			cfg, err := loadEnvConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := trust.NewSQLiteCallerStore(db)
			if err != nil {
				return err
			}

			caller := trust.TrustedCaller{
				ID:      uuid.NewString(),
				KeyHash: trust.HashKey(rawKey),
				Scopes:  scopes,
				Seller:  seller,
				ChainID: chainID,
				Enabled: true,
			}
			if err := store.Put(cmd.Context(), caller); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "caller id:", caller.ID)
			fmt.Fprintln(cmd.OutOrStdout(), "scopes:   ", strings.Join(scopes, " "))
			fmt.Fprintln(cmd.OutOrStdout(), "key:      ", rawKey)
			fmt.Fprintln(cmd.OutOrStdout(), "store the key now; it is not recoverable later")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scope, repeatable (e.g. events)")
	cmd.Flags().StringVar(&seller, "seller", "", "bind the caller to one seller address")
	cmd.Flags().Uint64Var(&chainID, "chain-id", 0, "bind the caller to one chain")
	return cmd
}

func newCallerRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <caller-id>",
		Short: "Revoke a trusted caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEnvConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := trust.NewSQLiteCallerStore(db)
			if err != nil {
				return err
			}
			if err := store.Revoke(cmd.Context(), args[0], time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "revoked", args[0])
			return nil
		},
	}
}
