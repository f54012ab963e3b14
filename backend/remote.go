package backend

import "context"

// ProjectAPI is the remote contract the sync engine consumes.
// Implementations return *BackendError for non-2xx responses.
type ProjectAPI interface {
	// CreateProject issues POST /projects and returns the server record with its assigned id
	CreateProject(ctx context.Context, payload Fields) (*Project, error)

	// GetProject issues GET /projects/:id
	GetProject(ctx context.Context, id string) (*Project, error)

	// UpdateProject issues PUT /projects/:id and returns the updated server record
	UpdateProject(ctx context.Context, id string, payload Fields) (*Project, error)

	// DeleteProject issues DELETE /projects/:id
	DeleteProject(ctx context.Context, id string) error

	// ListProjects issues GET /projects?limit=N
	ListProjects(ctx context.Context, limit int) ([]Project, error)
}
