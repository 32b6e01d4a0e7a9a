package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/scrobbler/internal/config"
	"github.com/jfmyers9/scrobbler/internal/credentials"
	"github.com/jfmyers9/scrobbler/internal/scrobbler"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authenticate with Last.fm",
	Long: `Authenticate with Last.fm to enable scrobbling.

This command will guide you through the Last.fm authentication process:
1. You'll be prompted to enter your Last.fm API key and secret
2. A browser URL will be provided for you to authorize the application
3. After authorization, the session key is saved to the credential store

The credential store is config.yaml by default; set credential_store to
"keychain" to keep the secrets in the macOS keychain instead.

You can get API credentials from: https://www.last.fm/api/account/create`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := credentials.New(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Last.fm Authentication")
	fmt.Fprintln(out, "======================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "You can get API credentials from: https://www.last.fm/api/account/create")
	fmt.Fprintln(out)

	apiKey, err := lookup(store, credentials.AccountAPIKey)
	if err != nil {
		return err
	}
	apiSecret, err := lookup(store, credentials.AccountSharedSecret)
	if err != nil {
		return err
	}

	// Check if we already have credentials
	if apiKey != "" && apiSecret != "" {
		fmt.Fprintf(out, "Found existing API credentials.\n")
		fmt.Fprintf(out, "API Key: %s\n", apiKey)
		fmt.Fprint(out, "\nUse existing credentials? [Y/n]: ")
		response, err := reader.ReadString('\n')
		if err != nil {
			response = "y"
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			apiKey, apiSecret = "", ""
		}
	}

	if apiKey == "" {
		if apiKey, err = prompt(reader, out, "Enter your Last.fm API Key: "); err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
	}
	if apiSecret == "" {
		if apiSecret, err = prompt(reader, out, "Enter your Last.fm API Secret: "); err != nil {
			return fmt.Errorf("failed to read API secret: %w", err)
		}
	}
	if apiKey == "" || apiSecret == "" {
		return fmt.Errorf("API key and secret are required")
	}

	client, err := scrobbler.New(scrobbler.Config{APIKey: apiKey, APISecret: apiSecret})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nGenerating authentication token...")
	token, authURL, err := client.AuthenticateWithToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate auth token: %w", err)
	}

	fmt.Fprintln(out, "\nPlease visit this URL to authorize scrobbler:")
	fmt.Fprintf(out, "\n  %s\n\n", authURL)
	fmt.Fprintln(out, "After authorizing, press Enter to continue...")
	_, _ = reader.ReadString('\n')

	fmt.Fprintln(out, "Retrieving session key...")
	var sessionKey string
	const maxRetries = 3
	retryDelay := 2 * time.Second

	for i := range maxRetries {
		sessionKey, err = client.GetSession(ctx, token)
		if err == nil {
			break
		}
		if i < maxRetries-1 {
			fmt.Fprintf(out, "Failed to retrieve session (attempt %d/%d). Retrying in %v...\n",
				i+1, maxRetries, retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to get session key after %d attempts: %w", maxRetries, err)
	}

	for account, value := range map[string]string{
		credentials.AccountAPIKey:       apiKey,
		credentials.AccountSharedSecret: apiSecret,
		credentials.AccountSessionKey:   sessionKey,
	} {
		if err := store.Set(account, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", account, err)
		}
	}

	fmt.Fprintf(out, "\n✓ Authentication successful!\n")
	fmt.Fprintf(out, "✓ Session key saved (%s store)\n", cfg.CredentialStore)
	fmt.Fprintln(out, "\nYou can now run 'scrobbler' to start scrobbling.")

	return nil
}

// lookup reads an account, treating a missing one as empty.
func lookup(store credentials.Store, account string) (string, error) {
	v, err := store.Get(account)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", account, err)
	}
	return v, nil
}

func prompt(reader *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
