package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrProjectNotFound creates an error when a project id is unknown locally
func ErrProjectNotFound(id string, cause error) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("project '%s': %w", id, cause),
		Suggestion: "Run 'projectsync project list' to see known projects, or 'projectsync sync pull' to refresh from the server",
	}
}

// ErrSyncNotEnabled creates an error when sync operations are attempted but sync is disabled
func ErrSyncNotEnabled() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("sync is not enabled in configuration"),
		Suggestion: "Set 'sync.enabled: true' in ~/.config/projectsync/config.json",
	}
}

// ErrOffline creates an error when the API cannot be reached
func ErrOffline(reason string, cause error) error {
	suggestion := "Check your internet connection and try again. Local changes stay queued"
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "dns"):
		suggestion = "Check your DNS settings and internet connection"
	case strings.Contains(lower, "refused"):
		suggestion = "Check that the API server is running and api.base_url is correct"
	case strings.Contains(lower, "timeout"):
		suggestion = "The server may be slow or unreachable. Try again later"
	}

	msg := "the project API is offline"
	if reason != "" {
		msg += ": " + reason
	}
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s: %w", msg, cause),
		Suggestion: suggestion + ", or use --force to attempt the sync anyway",
	}
}

// ErrSyncBusy creates an error when another sync run holds the engine
func ErrSyncBusy(cause error) error {
	return &ErrorWithSuggestion{
		Err:        cause,
		Suggestion: "Another sync is running (possibly 'projectsync watch'). Wait for it to finish",
	}
}

// ErrOpenConflicts creates an error when conflicts need a manual decision
func ErrOpenConflicts(count int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%d conflict(s) need a decision", count),
		Suggestion: "Run 'projectsync sync conflicts' and resolve them with 'projectsync sync conflicts resolve <id> --keep server|local'",
	}
}

// ErrInvalidDate creates an error for invalid date formats
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date format: %s", dateStr),
		Suggestion: "Use YYYY-MM-DD format (e.g., 2026-01-15)",
	}
}

// ErrInvalidStrategy creates an error for an unknown conflict strategy
func ErrInvalidStrategy(strategy string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid conflict strategy: %s", strategy),
		Suggestion: fmt.Sprintf("Valid strategies: %s", strings.Join(valid, ", ")),
	}
}

// ErrCredentialsNotFound creates an error when no API token is configured
func ErrCredentialsNotFound(baseURL string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no API token found for %s", baseURL),
		Suggestion: "Store one with 'projectsync credentials set --prompt' or export PROJECTSYNC_TOKEN",
	}
}

// ErrAuthenticationFailed creates an error when the API rejects the token
func ErrAuthenticationFailed(baseURL string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for %s", baseURL),
		Suggestion: "Check the token with 'projectsync credentials get' and update it if needed",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/projectsync/config.json and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
