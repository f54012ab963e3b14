package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"projectsync/backend"
)

// fakeServer is a minimal in-memory implementation of the project API
type fakeServer struct {
	mu       sync.Mutex
	projects map[string]backend.Project
	nextID   int
	token    string
	requests []string
}

func newFakeServer(t *testing.T, token string) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{projects: make(map[string]backend.Project), token: token}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())

	if fs.token != "" && r.Header.Get("Authorization") != "Bearer "+fs.token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/projects")
	id = strings.TrimPrefix(id, "/")

	switch {
	case r.Method == http.MethodPost && id == "":
		var p backend.Project
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.nextID++
		p.ID = "p" + string(rune('0'+fs.nextID))
		p.UpdatedAt = time.Unix(1700000000, 0).UTC()
		fs.projects[p.ID] = p
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "created", "project": p})

	case r.Method == http.MethodGet && id == "":
		list := make([]backend.Project, 0, len(fs.projects))
		for _, p := range fs.projects {
			list = append(list, p)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"projects": list})

	case r.Method == http.MethodGet:
		p, ok := fs.projects[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		// bare object, not wrapped
		_ = json.NewEncoder(w).Encode(p)

	case r.Method == http.MethodPut:
		p, ok := fs.projects[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		var patch map[string]any
		_ = json.NewDecoder(r.Body).Decode(&patch)
		if name, ok := patch["name"].(string); ok {
			p.Name = name
		}
		fs.projects[id] = p
		_ = json.NewEncoder(w).Encode(map[string]any{"project": p})

	case r.Method == http.MethodDelete:
		if _, ok := fs.projects[id]; !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		delete(fs.projects, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func TestClientProjectLifecycle(t *testing.T) {
	fs, srv := newFakeServer(t, "secret")
	client := NewClient(srv.URL+"/", StaticToken("secret"), time.Second)
	ctx := context.Background()

	created, err := client.CreateProject(ctx, backend.Fields{"name": "Harbor"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if created.ID != "p1" || created.Name != "Harbor" {
		t.Errorf("CreateProject() = %+v", created)
	}

	got, err := client.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != "Harbor" || !got.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("GetProject() = %+v", got)
	}

	updated, err := client.UpdateProject(ctx, "p1", backend.Fields{"name": "Harbor II"})
	if err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
	if updated.Name != "Harbor II" {
		t.Errorf("UpdateProject() = %+v", updated)
	}

	list, err := client.ListProjects(ctx, 50)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListProjects() = %+v", list)
	}

	if err := client.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	want := []string{"POST /projects", "GET /projects/p1", "PUT /projects/p1", "GET /projects?limit=50", "DELETE /projects/p1"}
	if strings.Join(fs.requests, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", fs.requests, want)
	}
}

func TestClientNotFoundIsBackendError(t *testing.T) {
	_, srv := newFakeServer(t, "")
	client := NewClient(srv.URL, nil, time.Second)

	_, err := client.GetProject(context.Background(), "missing")
	if !backend.IsNotFound(err) {
		t.Fatalf("GetProject() error = %v, want 404", err)
	}
	var berr *backend.BackendError
	if !errors.As(err, &berr) || berr.ProjectID != "missing" || berr.Body == "" {
		t.Errorf("error details = %+v", berr)
	}

	if err := client.DeleteProject(context.Background(), "missing"); !backend.IsNotFound(err) {
		t.Errorf("DeleteProject() error = %v, want 404", err)
	}
}

func TestClientUnauthorized(t *testing.T) {
	_, srv := newFakeServer(t, "secret")
	client := NewClient(srv.URL, StaticToken("wrong"), time.Second)

	_, err := client.ListProjects(context.Background(), 10)
	var berr *backend.BackendError
	if !errors.As(err, &berr) || !berr.IsUnauthorized() {
		t.Fatalf("ListProjects() error = %v, want 401", err)
	}

	// reachable even though the token is rejected
	if err := client.Probe(context.Background()); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestClientProbeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	client := NewClient(srv.URL, nil, time.Second)
	if err := client.Probe(context.Background()); err == nil {
		t.Error("Probe() against a 502 should fail")
	}

	srv.Close()
	if err := client.Probe(context.Background()); err == nil {
		t.Error("Probe() against a closed server should fail")
	}
}

func TestClientHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, nil, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.GetProject(ctx, "p1"); !errors.Is(err, context.Canceled) {
		t.Errorf("GetProject() error = %v, want context.Canceled", err)
	}
}
