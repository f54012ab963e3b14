package credentials

import (
	"fmt"
	"sync"
)

// Source indicates where credentials were found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Credentials represents a resolved API token
type Credentials struct {
	BaseURL  string
	Username string
	Token    string
	Source   Source
}

// Resolver finds the API token using the priority order
// keyring > environment > config file
type Resolver struct {
	BaseURL     string
	Username    string
	ConfigToken string

	mu     sync.Mutex
	cached *Credentials
}

// NewResolver creates a resolver for one API endpoint
func NewResolver(baseURL, username, configToken string) *Resolver {
	return &Resolver{
		BaseURL:     baseURL,
		Username:    username,
		ConfigToken: configToken,
	}
}

// Resolve looks the token up once and caches the result
func (r *Resolver) Resolve() (*Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return r.cached, nil
	}
	if r.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required for credential resolution")
	}

	creds := &Credentials{BaseURL: r.BaseURL, Username: r.Username, Source: SourceNone}

	// Priority 1: keyring
	if IsAvailable() {
		if token, err := GetToken(r.BaseURL, r.Username); err == nil {
			creds.Token = token
			creds.Source = SourceKeyring
			r.cached = creds
			return creds, nil
		}
	}

	// Priority 2: environment
	if token := GetEnvToken(); token != "" {
		creds.Token = token
		creds.Source = SourceEnv
		r.cached = creds
		return creds, nil
	}

	// Priority 3: config file
	if r.ConfigToken != "" {
		creds.Token = r.ConfigToken
		creds.Source = SourceConfig
		r.cached = creds
		return creds, nil
	}

	return nil, fmt.Errorf("%w for %s (tried: keyring, %s, config)", ErrNoToken, r.BaseURL, EnvToken)
}

// Token implements the HTTP client's token source
func (r *Resolver) Token() (string, error) {
	creds, err := r.Resolve()
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

// Forget drops the cached token so the next request resolves again
func (r *Resolver) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}
