package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks whether a local record agrees with the server
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// Operation is the kind of mutation recorded in the operation queue
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// TemporaryIDPrefix marks ids assigned locally before the server issued one
const TemporaryIDPrefix = "local-"

// NewTemporaryID returns a fresh id for a record created while offline
func NewTemporaryID() string {
	return TemporaryIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was assigned locally
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// Client identifies the customer a project is delivered for
type Client struct {
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Timeline holds the planned project window
type Timeline struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Budget holds the project budget
type Budget struct {
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// PendingChange is one unsynced local mutation, kept for audit and debugging
type PendingChange struct {
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Fields    `json:"snapshot,omitempty"`
}

// Project is the unit of synchronization.
//
// Everything tagged for JSON is the domain payload exchanged with the server.
// SyncStatus, LastSyncedAt, PendingChanges and LocallyDeleted belong to the
// sync engine and never leave the client.
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status,omitempty"`
	Type        string         `json:"type,omitempty"`
	Location    string         `json:"location,omitempty"`
	Client      Client         `json:"client"`
	Timeline    Timeline       `json:"timeline"`
	Budget      Budget         `json:"budget"`
	Team        []string       `json:"team,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Deleted     bool           `json:"deleted,omitempty"`

	SyncStatus     SyncStatus      `json:"-"`
	LastSyncedAt   time.Time       `json:"-"`
	PendingChanges []PendingChange `json:"-"`
	LocallyDeleted bool            `json:"-"`
}

// Fields is the JSON-shaped form of a project payload. Queue entries, patches
// and conflict resolution all work on Fields so that "which fields did this
// mutation touch" is answerable.
type Fields map[string]any

// Clone returns a deep copy of f. The copy goes through JSON so values compare
// the same way whether they came from Go structs or decoded payloads.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		out := make(Fields, len(f))
		for k, v := range f {
			out[k] = v
		}
		return out
	}
	var out Fields
	_ = json.Unmarshal(data, &out)
	return out
}

// Keys returns the field names present in f
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

// Fields returns the domain payload of p
func (p *Project) Fields() Fields {
	data, err := json.Marshal(p)
	if err != nil {
		return Fields{"id": p.ID, "name": p.Name}
	}
	var f Fields
	_ = json.Unmarshal(data, &f)
	return f
}

// clearable lists the payload keys that Fields omits when they are empty,
// with the value an empty field has on the wire
var clearable = map[string]func() any{
	"description": func() any { return "" },
	"status":      func() any { return "" },
	"type":        func() any { return "" },
	"location":    func() any { return "" },
	"team":        func() any { return []any{} },
	"tags":        func() any { return []any{} },
	"metadata":    func() any { return map[string]any{} },
	"createdBy":   func() any { return "" },
}

// PayloadFields is Fields with empty fields present. A field the server
// cleared shows up as empty instead of missing.
func (p *Project) PayloadFields() Fields {
	f := p.Fields()
	for k, zero := range clearable {
		if _, ok := f[k]; !ok {
			f[k] = zero()
		}
	}
	return f
}

// ProjectFromFields builds a project from a payload. Sync-only attributes are
// left at their zero values.
func ProjectFromFields(f Fields) (*Project, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode project fields: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode project fields: %w", err)
	}
	return &p, nil
}

// Apply overlays patch onto p and returns the result as a new project.
// Sync-only attributes are carried over from p.
func (p *Project) Apply(patch Fields) (*Project, error) {
	merged := p.Fields()
	for k, v := range patch.Clone() {
		merged[k] = v
	}
	out, err := ProjectFromFields(merged)
	if err != nil {
		return nil, err
	}
	out.SyncStatus = p.SyncStatus
	out.LastSyncedAt = p.LastSyncedAt
	out.PendingChanges = append([]PendingChange(nil), p.PendingChanges...)
	out.LocallyDeleted = p.LocallyDeleted
	return out, nil
}

// ProjectFilter selects projects from the local store. All set filters must
// match (AND).
type ProjectFilter struct {
	Status          string
	Type            string
	ClientSubstring string
	SearchText      string
	CreatedBy       string
}

// IsEmpty reports whether no filter is set
func (f ProjectFilter) IsEmpty() bool {
	return f.Status == "" && f.Type == "" && f.ClientSubstring == "" && f.SearchText == "" && f.CreatedBy == ""
}

// Matches evaluates the text filters against p. Equality filters are also
// checked so the result is correct for any caller.
func (f ProjectFilter) Matches(p *Project) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.CreatedBy != "" && p.CreatedBy != f.CreatedBy {
		return false
	}
	if f.ClientSubstring != "" {
		if !containsFold(p.Client.Name, f.ClientSubstring) && !containsFold(p.Client.Company, f.ClientSubstring) {
			return false
		}
	}
	if f.SearchText != "" {
		haystacks := []string{p.Name, p.Description, p.Client.Name, p.Client.Company}
		haystacks = append(haystacks, p.Tags...)
		found := false
		for _, h := range haystacks {
			if containsFold(h, f.SearchText) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
