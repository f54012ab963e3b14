package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"projectsync/backend"
)

// DefaultTimeout bounds every request when the caller does not configure one
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer token for each request
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a fixed token
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

// Client talks to the remote project API and implements backend.ProjectAPI
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

var _ backend.ProjectAPI = (*Client)(nil)

// NewClient creates a client for baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

type projectEnvelope struct {
	Message string           `json:"message,omitempty"`
	Project *backend.Project `json:"project"`
}

type projectsEnvelope struct {
	Projects []backend.Project `json:"projects"`
}

// doRequest performs an authenticated request against the API
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get API token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// checkHTTPResponse turns a non-2xx response into a *backend.BackendError
func checkHTTPResponse(resp *http.Response, operation, projectID string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var berr *backend.BackendError
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		berr = backend.NewBackendError(operation, resp.StatusCode, "Authentication failed. Please check your API token")
	case http.StatusNotFound:
		berr = backend.NewBackendError(operation, resp.StatusCode, "Project not found")
	case http.StatusConflict:
		berr = backend.NewBackendError(operation, resp.StatusCode, "Project was modified concurrently")
	default:
		berr = backend.NewBackendError(operation, resp.StatusCode, resp.Status)
	}
	return berr.WithProjectID(projectID).WithBody(string(body))
}

// decodeProject accepts both {"project": {...}} and a bare project object
func decodeProject(r io.Reader, operation string) (*backend.Project, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, backend.NewBackendError(operation, 0, "failed to read response").WithError(err)
	}

	var env projectEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Project != nil && env.Project.ID != "" {
		return env.Project, nil
	}

	var p backend.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, backend.NewBackendError(operation, 0, "failed to decode response").WithError(err)
	}
	if p.ID == "" {
		return nil, backend.NewBackendError(operation, 0, "response carries no project")
	}
	return &p, nil
}

func projectPath(id string) string {
	return "/projects/" + url.PathEscape(id)
}

// CreateProject issues POST /projects
func (c *Client) CreateProject(ctx context.Context, payload backend.Fields) (*backend.Project, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/projects", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkHTTPResponse(resp, "CreateProject", ""); err != nil {
		return nil, err
	}
	return decodeProject(resp.Body, "CreateProject")
}

// GetProject issues GET /projects/:id
func (c *Client) GetProject(ctx context.Context, id string) (*backend.Project, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, projectPath(id), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkHTTPResponse(resp, "GetProject", id); err != nil {
		return nil, err
	}
	return decodeProject(resp.Body, "GetProject")
}

// UpdateProject issues PUT /projects/:id
func (c *Client) UpdateProject(ctx context.Context, id string, payload backend.Fields) (*backend.Project, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, projectPath(id), payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkHTTPResponse(resp, "UpdateProject", id); err != nil {
		return nil, err
	}
	return decodeProject(resp.Body, "UpdateProject")
}

// DeleteProject issues DELETE /projects/:id
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, projectPath(id), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return checkHTTPResponse(resp, "DeleteProject", id)
}

// ListProjects issues GET /projects?limit=N
func (c *Client) ListProjects(ctx context.Context, limit int) ([]backend.Project, error) {
	endpoint := "/projects"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkHTTPResponse(resp, "ListProjects", ""); err != nil {
		return nil, err
	}

	var env projectsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, backend.NewBackendError("ListProjects", 0, "failed to decode response").WithError(err)
	}
	return env.Projects, nil
}

// Probe checks that the API answers at all. Any HTTP response below 500 means
// the server is reachable, even when the token is rejected.
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/projects?limit=1", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return backend.NewBackendError("Probe", resp.StatusCode, resp.Status)
	}
	return nil
}
