package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"

	"github.com/nhle/azdo-connector/internal/source/azuredevops"
)

const serviceName = "azdo-connector"

// EnvPAT names the environment variable that overrides the stored token.
const EnvPAT = "AZURE_DEVOPS_PAT"

// Store reads and writes connector secrets in a keyring.
type Store struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring, getenv: os.Getenv}
}

// Open returns a Store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/azdo-connector/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("azdo-connector-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// KeyFor returns the keyring key holding the PAT of a connector.
func KeyFor(connectorID string) string {
	return "azure_devops-" + connectorID
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(value),
		Label:       "Azure DevOps PAT",
		Description: "Personal access token used by azdo-connector",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Bundle returns the credential bundle for a connector, ready for
// LoadCredentials. The AZURE_DEVOPS_PAT environment variable takes
// precedence over the keyring. A connector without any stored token gets
// an empty bundle so the connector itself reports the missing credential.
func (s *Store) Bundle(connectorID string) (map[string]any, error) {
	if pat := s.getenv(EnvPAT); pat != "" {
		return map[string]any{azuredevops.CredentialKeyPAT: pat}, nil
	}

	pat, err := s.Get(KeyFor(connectorID))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return map[string]any{azuredevops.CredentialKeyPAT: pat}, nil
}
