package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mrmushfiq/ridegate/internal/gateway/auth"
	"github.com/mrmushfiq/ridegate/internal/shared/database"
)

var (
	keyOwner       string
	keyName        string
	keyPermissions []string
	keyRateLimit   int
	keyExpiresIn   time.Duration
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage gateway API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key",
	Long: `Issues a new API key and prints it. The key is shown exactly once;
only a hash of its secret is stored.`,
	Example: `  gateway keys create --owner hotel-partner --name prod --permission maps:read --permission partner:write`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		nc := auth.NewCredential{
			ServiceName:        keyOwner,
			KeyName:            keyName,
			Permissions:        keyPermissions,
			RateLimitPerMinute: keyRateLimit,
		}
		if keyExpiresIn > 0 {
			exp := time.Now().Add(keyExpiresIn).UTC()
			nc.ExpiresAt = &exp
		}

		key, cred, err := auth.NewAuthenticator(db, log.Logger).CreateCredential(cmd.Context(), nc)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:          %s\n", cred.ID)
		fmt.Fprintf(out, "owner:       %s\n", cred.ServiceName)
		fmt.Fprintf(out, "permissions: %s\n", strings.Join(cred.Permissions, ", "))
		if cred.ExpiresAt != nil {
			fmt.Fprintf(out, "expires:     %s\n", cred.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "key:         %s\n", key)
		fmt.Fprintln(out, "\nStore this key now; it cannot be shown again.")
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := auth.NewAuthenticator(db, log.Logger).RevokeCredential(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

func openDB(ctx context.Context) (*database.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("GATEWAY_DATABASE_URL is required to manage keys")
	}
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd)

	keysCreateCmd.Flags().StringVar(&keyOwner, "owner", "", "Service or partner the key is issued to")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "default", "Label for the key")
	keysCreateCmd.Flags().StringSliceVar(&keyPermissions, "permission", nil, "Permission to grant (repeatable)")
	keysCreateCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 0, "Per-minute budget for the key (0 uses the route budget)")
	keysCreateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "Key lifetime, e.g. 720h (0 never expires)")
	_ = keysCreateCmd.MarkFlagRequired("owner")
}
