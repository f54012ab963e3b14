package backend

// This file contains shared test helpers and mocks used across package tests.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockCall records one request received by MockRemote
type MockCall struct {
	Method string // POST, GET, PUT, DELETE, LIST
	ID     string
}

// MockRemote implements ProjectAPI in memory for testing
type MockRemote struct {
	mu       sync.Mutex
	projects map[string]Project
	calls    []MockCall
	nextSeq  int

	// NextIDs are handed out in order to created projects before falling back to p<N>
	NextIDs []string

	CreateErr error
	GetErr    error
	UpdateErr error
	DeleteErr error
	ListErr   error

	// BeforeCall runs before every request; a non-nil error fails the request
	BeforeCall func(ctx context.Context, method, id string) error

	// Now stamps UpdatedAt on writes
	Now func() time.Time
}

// NewMockRemote creates an empty mock remote
func NewMockRemote() *MockRemote {
	return &MockRemote{
		projects: make(map[string]Project),
		Now:      time.Now,
	}
}

// Seed stores p on the mock server as-is
func (m *MockRemote) Seed(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

// Project returns the server copy of id
func (m *MockRemote) Project(id string) (Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok
}

// Calls returns the requests received so far
func (m *MockRemote) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// MutationCalls returns only POST, PUT and DELETE requests
func (m *MockRemote) MutationCalls() []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Method == "POST" || c.Method == "PUT" || c.Method == "DELETE" {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockRemote) begin(ctx context.Context, method, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, ID: id})
	hook := m.BeforeCall
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, method, id); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (m *MockRemote) CreateProject(ctx context.Context, payload Fields) (*Project, error) {
	if err := m.begin(ctx, "POST", ""); err != nil {
		return nil, err
	}
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	p, err := ProjectFromFields(payload)
	if err != nil {
		return nil, NewBackendError("CreateProject", 400, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.NextIDs) > 0 {
		p.ID = m.NextIDs[0]
		m.NextIDs = m.NextIDs[1:]
	} else {
		m.nextSeq++
		p.ID = fmt.Sprintf("p%d", m.nextSeq)
	}
	now := m.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.projects[p.ID] = *p

	out := *p
	return &out, nil
}

func (m *MockRemote) GetProject(ctx context.Context, id string) (*Project, error) {
	if err := m.begin(ctx, "GET", id); err != nil {
		return nil, err
	}
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, NewBackendError("GetProject", 404, "project not found").WithProjectID(id)
	}
	return &p, nil
}

func (m *MockRemote) UpdateProject(ctx context.Context, id string, payload Fields) (*Project, error) {
	if err := m.begin(ctx, "PUT", id); err != nil {
		return nil, err
	}
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.projects[id]
	if !ok {
		return nil, NewBackendError("UpdateProject", 404, "project not found").WithProjectID(id)
	}

	updated, err := current.Apply(payload)
	if err != nil {
		return nil, NewBackendError("UpdateProject", 400, err.Error())
	}
	updated.ID = id
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = m.Now()
	m.projects[id] = *updated

	out := *updated
	return &out, nil
}

func (m *MockRemote) DeleteProject(ctx context.Context, id string) error {
	if err := m.begin(ctx, "DELETE", id); err != nil {
		return err
	}
	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return NewBackendError("DeleteProject", 404, "project not found").WithProjectID(id)
	}
	delete(m.projects, id)
	return nil
}

func (m *MockRemote) ListProjects(ctx context.Context, limit int) ([]Project, error) {
	if err := m.begin(ctx, "LIST", ""); err != nil {
		return nil, err
	}
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
