package main

import (
	"fmt"

	"github.com/spf13/cobra"

	fulfill "github.com/openstall/fulfill"
	"github.com/openstall/fulfill/dispatch"
	"github.com/openstall/fulfill/storage"
)

// newCredentialCmd administers the outbound credential table. A credential
// marks its origin as trusted: dispatches there bypass the private-address
// guard and carry the key header, so additions should be deliberate.
func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage outbound adapter credentials",
	}
	cmd.AddCommand(newCredentialAddCmd())
	return cmd
}

func newCredentialAddCmd() *cobra.Command {
	var (
		origin     string
		pathPrefix string
		headerName string
		apiKey     string
		seller     string
		chainID    uint64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a trusted adapter origin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if origin == "" || apiKey == "" {
				return fmt.Errorf("--origin and --api-key are required")
			}

			cfg, err := loadEnvConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := dispatch.NewSQLiteCredentialStore(db)
			if err != nil {
				return err
			}
			cred := dispatch.OutboundCredential{
				Origin:      origin,
				PathPrefix:  pathPrefix,
				ServiceKind: fulfill.ServiceKindFulfillment,
				HeaderName:  headerName,
				APIKey:      apiKey,
				Seller:      seller,
				ChainID:     chainID,
				Enabled:     true,
			}
			if err := store.Put(cmd.Context(), cred); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "trusted origin registered:", origin)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "scheme://host[:port] of the adapter")
	cmd.Flags().StringVar(&pathPrefix, "path-prefix", "/", "path prefix the credential applies to")
	cmd.Flags().StringVar(&headerName, "header", fulfill.DefaultAuthHeader, "header carrying the key")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "key sent to the adapter")
	cmd.Flags().StringVar(&seller, "seller", "", "bind the credential to one seller address")
	cmd.Flags().Uint64Var(&chainID, "chain-id", 0, "bind the credential to one chain")
	return cmd
}
