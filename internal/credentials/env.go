package credentials

import (
	"os"
	"strings"
)

const (
	// EnvToken holds the API token
	EnvToken = "PROJECTSYNC_TOKEN"
	// EnvBaseURL overrides the configured API base URL
	EnvBaseURL = "PROJECTSYNC_API_URL"
)

// GetEnvToken retrieves the API token from the environment
func GetEnvToken() string {
	return strings.TrimSpace(os.Getenv(EnvToken))
}

// GetEnvBaseURL retrieves the API base URL override from the environment
func GetEnvBaseURL() string {
	return strings.TrimSpace(os.Getenv(EnvBaseURL))
}
