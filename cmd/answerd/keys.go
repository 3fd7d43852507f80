package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/answerdhq/answerd/internal/apikey"
	"github.com/answerdhq/answerd/internal/logging"
)

var (
	keyUser string
	keyName string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage admin API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new admin API key",
	Long: `Mint a new admin API key.

The full key is printed exactly once; only its hash is stored.

Examples:
  answerd keys create --user alice --name "ci deploys"`,
	RunE: runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke [key-id]",
	Short: "Revoke an admin API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	keysCreateCmd.Flags().StringVar(&keyUser, "user", "", "owner user ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "human-readable key name (required)")
	_ = keysCreateCmd.MarkFlagRequired("user")
	_ = keysCreateCmd.MarkFlagRequired("name")
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	a, err := newStorageApp()
	if err != nil {
		return err
	}
	defer a.Close()

	full, k, err := apikey.Mint(keyUser, keyName, time.Now())
	if err != nil {
		return fmt.Errorf("minting key: %w", err)
	}
	if err := a.storage.APIKeys().Create(cmd.Context(), k); err != nil {
		return fmt.Errorf("storing key: %w", err)
	}

	a.logger.Info("api key created",
		zap.String("key_id", k.ID),
		zap.String("user_id", k.UserID),
		logging.Token("key", full),
	)
	fmt.Printf("Key ID:  %s\n", k.ID)
	fmt.Printf("API key: %s\n", full)
	fmt.Println("Store this key now; it cannot be shown again.")
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	a, err := newStorageApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.storage.APIKeys().Revoke(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("revoking key: %w", err)
	}
	fmt.Printf("Revoked key %s\n", args[0])
	return nil
}
