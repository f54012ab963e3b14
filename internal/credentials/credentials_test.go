package credentials

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestGetServiceName(t *testing.T) {
	tests := []struct {
		baseURL  string
		expected string
	}{
		{"https://api.example.com/v1", "projectsync-api.example.com"},
		{"http://localhost:3000/api", "projectsync-localhost:3000"},
		{"not a url", "projectsync-not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			if got := getServiceName(tt.baseURL); got != tt.expected {
				t.Errorf("getServiceName(%q) = %q, want %q", tt.baseURL, got, tt.expected)
			}
		})
	}
}

func TestTokenKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	const base = "https://api.example.com"
	if err := SetToken(base, "", "s3cret"); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}

	token, err := GetToken(base, "")
	if err != nil || token != "s3cret" {
		t.Fatalf("GetToken() = %q, %v", token, err)
	}
	// a different account is a different entry
	if _, err := GetToken(base, "alice"); !errors.Is(err, ErrNoToken) {
		t.Errorf("GetToken(alice) error = %v, want ErrNoToken", err)
	}

	if err := DeleteToken(base, ""); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if err := DeleteToken(base, ""); !errors.Is(err, ErrNoToken) {
		t.Errorf("second DeleteToken() error = %v, want ErrNoToken", err)
	}
}

func TestTokenValidation(t *testing.T) {
	keyring.MockInit()

	if err := SetToken("", "", "x"); err == nil {
		t.Error("SetToken() accepted an empty base URL")
	}
	if err := SetToken("https://api.example.com", "", ""); err == nil {
		t.Error("SetToken() accepted an empty token")
	}
	if _, err := GetToken("", ""); err == nil {
		t.Error("GetToken() accepted an empty base URL")
	}
	if err := DeleteToken("", ""); err == nil {
		t.Error("DeleteToken() accepted an empty base URL")
	}
}

func TestResolverPriority(t *testing.T) {
	keyring.MockInit()
	const base = "https://api.example.com"

	t.Run("config only", func(t *testing.T) {
		t.Setenv(EnvToken, "")
		creds, err := NewResolver(base, "", "from-config").Resolve()
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if creds.Token != "from-config" || creds.Source != SourceConfig {
			t.Errorf("creds = %+v", creds)
		}
	})

	t.Run("env over config", func(t *testing.T) {
		t.Setenv(EnvToken, " from-env ")
		creds, err := NewResolver(base, "", "from-config").Resolve()
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if creds.Token != "from-env" || creds.Source != SourceEnv {
			t.Errorf("creds = %+v", creds)
		}
	})

	t.Run("keyring over env", func(t *testing.T) {
		t.Setenv(EnvToken, "from-env")
		if err := SetToken(base, "bob", "from-keyring"); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = DeleteToken(base, "bob") }()

		creds, err := NewResolver(base, "bob", "from-config").Resolve()
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if creds.Token != "from-keyring" || creds.Source != SourceKeyring {
			t.Errorf("creds = %+v", creds)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Setenv(EnvToken, "")
		if _, err := NewResolver(base, "", "").Resolve(); !errors.Is(err, ErrNoToken) {
			t.Errorf("Resolve() error = %v, want ErrNoToken", err)
		}
	})

	t.Run("base url required", func(t *testing.T) {
		if _, err := NewResolver("", "", "x").Resolve(); err == nil {
			t.Error("Resolve() without base URL should fail")
		}
	})
}

func TestResolverCachesUntilForget(t *testing.T) {
	keyring.MockInit()
	t.Setenv(EnvToken, "first")

	r := NewResolver("https://api.example.com", "", "")
	if tok, _ := r.Token(); tok != "first" {
		t.Fatalf("Token() = %q", tok)
	}

	t.Setenv(EnvToken, "second")
	if tok, _ := r.Token(); tok != "first" {
		t.Errorf("Token() = %q, want cached value", tok)
	}

	r.Forget()
	if tok, _ := r.Token(); tok != "second" {
		t.Errorf("Token() after Forget = %q", tok)
	}
}

func TestResolverWithoutKeyring(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	t.Setenv(EnvToken, "from-env")

	creds, err := NewResolver("https://api.example.com", "", "").Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if creds.Source != SourceEnv {
		t.Errorf("Source = %q, want env fallback", creds.Source)
	}
	if IsAvailable() {
		t.Error("IsAvailable() = true with a failing keyring")
	}
}
