// Package credentials stores the Last.fm API key, shared secret and session
// key.
package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jfmyers9/scrobbler/internal/config"
)

// Account names under which the secrets are stored.
const (
	AccountAPIKey       = "API_KEY"
	AccountSharedSecret = "SHARED_SECRET"
	AccountSessionKey   = "SESSION_KEY"
)

// ErrNotFound is returned by Get when the account has no stored secret.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets by account name.
type Store interface {
	Get(account string) (string, error)
	Set(account, secret string) error
}

// Credentials are the values needed to sign and authenticate API calls.
type Credentials struct {
	APIKey       string
	SharedSecret string
	SessionKey   string
}

// Load reads all three accounts from store. The error names every missing
// account.
func Load(store Store) (Credentials, error) {
	var (
		creds   Credentials
		missing []string
	)
	for _, f := range []struct {
		account string
		dst     *string
	}{
		{AccountAPIKey, &creds.APIKey},
		{AccountSharedSecret, &creds.SharedSecret},
		{AccountSessionKey, &creds.SessionKey},
	} {
		v, err := store.Get(f.account)
		switch {
		case errors.Is(err, ErrNotFound):
			missing = append(missing, f.account)
		case err != nil:
			return creds, fmt.Errorf("reading %s: %w", f.account, err)
		default:
			*f.dst = v
		}
	}
	if len(missing) > 0 {
		return creds, fmt.Errorf("missing credentials %s (run 'scrobbler auth'): %w", strings.Join(missing, ", "), ErrNotFound)
	}
	return creds, nil
}

// New returns the store selected by cfg.
func New(cfg *config.Config) (Store, error) {
	switch cfg.CredentialStore {
	case "", config.StoreConfig:
		return NewConfigStore(config.GetConfigDir()), nil
	case config.StoreKeychain:
		return NewKeychainStore(cfg.KeychainService), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}
}

var configKeys = map[string]string{
	AccountAPIKey:       "lastfm.api_key",
	AccountSharedSecret: "lastfm.api_secret",
	AccountSessionKey:   "lastfm.session_key",
}

// ConfigStore keeps secrets in the lastfm section of config.yaml.
type ConfigStore struct {
	dir string
}

// NewConfigStore creates a store backed by config.yaml in dir.
func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Get(account string) (string, error) {
	key, ok := configKeys[account]
	if !ok {
		return "", fmt.Errorf("unknown account %q", account)
	}
	v := config.OpenValues(s.dir).Get(key)
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *ConfigStore) Set(account, secret string) error {
	key, ok := configKeys[account]
	if !ok {
		return fmt.Errorf("unknown account %q", account)
	}
	vals := config.OpenValues(s.dir)
	if err := vals.Set(key, secret); err != nil {
		return fmt.Errorf("writing %s: %w", vals.Path(), err)
	}
	return nil
}

// KeychainStore keeps secrets as macOS generic-password items via the
// security command.
type KeychainStore struct {
	service string
	run     func(ctx context.Context, args ...string) ([]byte, error)
}

// NewKeychainStore creates a store for items under service.
func NewKeychainStore(service string) *KeychainStore {
	return &KeychainStore{service: service, run: runSecurity}
}

// errItemNotFound is the exit status security uses for a missing item.
const errItemNotFound = 44

func runSecurity(ctx context.Context, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "security", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == errItemNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("security %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return out, nil
}

func (s *KeychainStore) Get(account string) (string, error) {
	out, err := s.run(context.Background(), "find-generic-password", "-s", s.service, "-a", account, "-w")
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *KeychainStore) Set(account, secret string) error {
	// -U updates an existing item in place.
	_, err := s.run(context.Background(), "add-generic-password", "-s", s.service, "-a", account, "-U", "-w", secret)
	return err
}
