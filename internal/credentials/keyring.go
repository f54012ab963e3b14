package credentials

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all projectsync keyring entries
	KeyringServicePrefix = "projectsync"

	// DefaultAccount is used when no username is configured
	DefaultAccount = "default"
)

// ErrNoToken is returned when no source holds a token
var ErrNoToken = errors.New("no API token found")

// getServiceName returns the keyring service name for an API endpoint.
// Tokens are scoped by host so staging and production tokens can coexist.
func getServiceName(baseURL string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, host)
}

func accountName(username string) string {
	if username == "" {
		return DefaultAccount
	}
	return username
}

// SetToken stores an API token in the OS keyring
func SetToken(baseURL, username, token string) error {
	if baseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if err := keyring.Set(getServiceName(baseURL), accountName(username), token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// GetToken retrieves an API token from the OS keyring
func GetToken(baseURL, username string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("API base URL cannot be empty")
	}

	token, err := keyring.Get(getServiceName(baseURL), accountName(username))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w in keyring for %s (account %q)", ErrNoToken, baseURL, accountName(username))
		}
		return "", fmt.Errorf("failed to retrieve token from keyring: %w", err)
	}
	return token, nil
}

// DeleteToken removes an API token from the OS keyring
func DeleteToken(baseURL, username string) error {
	if baseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}

	if err := keyring.Delete(getServiceName(baseURL), accountName(username)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w in keyring for %s (account %q)", ErrNoToken, baseURL, accountName(username))
		}
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible.
// A lookup of a missing item returns ErrNotFound when the keyring works.
func IsAvailable() bool {
	_, err := keyring.Get(KeyringServicePrefix+"-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
