package sync

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"projectsync/backend"
)

// ConflictType classifies a disagreement between a queued mutation and the server
type ConflictType string

const (
	ConflictNone     ConflictType = "none"
	ConflictVersion  ConflictType = "version"  // server moved since the client last agreed with it
	ConflictDeletion ConflictType = "deletion" // delete queued but the server record is live
	ConflictField    ConflictType = "field"    // a touched field changed on the server
)

// Strategy is the policy used to settle a conflict
type Strategy string

const (
	ServerWins     Strategy = "server-wins"
	ClientWins     Strategy = "client-wins"
	TimestampBased Strategy = "timestamp-based"
	Manual         Strategy = "manual"
)

// DefaultStrategy is used when a run does not pick one
const DefaultStrategy = ServerWins

// ParseStrategy validates a strategy name. The empty string selects the default.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return DefaultStrategy, nil
	case ServerWins, ClientWins, TimestampBased, Manual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q (valid: server-wins, client-wins, timestamp-based, manual)", s)
}

// Winner names the side whose values prevailed
type Winner string

const (
	WinnerServer Winner = "server"
	WinnerClient Winner = "client"
)

// ConflictInput is everything the resolver looks at
type ConflictInput struct {
	Operation backend.Operation
	// Local is the client record; its LastSyncedAt is the last agreement with the server
	Local *backend.Project
	// Server is the current server record, nil if the server has none
	Server *backend.Project
	// Payload is the queued mutation, the client's side of every overlay
	Payload backend.Fields
	// Base holds the record values before the mutation. When nil the local
	// record is used.
	Base backend.Fields
}

// Resolution is the resolver's verdict. Exactly one of Merged, Delete or
// Unresolved is meaningful when Type is not ConflictNone.
type Resolution struct {
	Type       ConflictType
	Strategy   Strategy
	Winner     Winner
	Merged     backend.Fields
	Delete     bool
	Unresolved bool
}

// HasConflict reports whether any conflict was detected
func (r Resolution) HasConflict() bool {
	return r.Type != ConflictNone
}

// Detect classifies the conflict in in. The first matching class wins:
// version, deletion, field.
func Detect(in ConflictInput) ConflictType {
	if in.Server == nil {
		return ConflictNone
	}

	var lastSynced time.Time
	if in.Local != nil {
		lastSynced = in.Local.LastSyncedAt
	}
	if in.Server.UpdatedAt.After(lastSynced) {
		return ConflictVersion
	}

	if in.Operation == backend.OperationDelete && !in.Server.Deleted {
		return ConflictDeletion
	}

	base := in.Base
	if base == nil && in.Local != nil {
		base = in.Local.Fields()
	}
	server := in.Server.Fields()
	// only the touched fields matter, compared against what the client saw
	for k := range in.Payload {
		if isBookkeepingField(k) {
			continue
		}
		if !sameValue(server[k], base[k]) {
			return ConflictField
		}
	}

	return ConflictNone
}

// Resolve classifies and settles a conflict. It never fails: the result is a
// merged payload, a delete decision, or an explicit unresolved marker.
func Resolve(in ConflictInput, strategy Strategy) Resolution {
	if strategy == "" {
		strategy = DefaultStrategy
	}

	res := Resolution{Type: Detect(in), Strategy: strategy}
	if res.Type == ConflictNone {
		return res
	}

	winner, ok := pickWinner(in, strategy)
	if !ok {
		res.Unresolved = true
		return res
	}
	res.Winner = winner

	if res.Type == ConflictDeletion {
		res.Delete = winner == WinnerClient
		if !res.Delete {
			res.Merged = in.Server.Fields()
		}
		return res
	}

	server := in.Server.PayloadFields()
	if winner == WinnerClient {
		res.Merged = ClientOverlay(server, in.Payload)
	} else {
		res.Merged = ServerOverlay(server, in.Payload)
	}
	return res
}

func pickWinner(in ConflictInput, strategy Strategy) (Winner, bool) {
	switch strategy {
	case ServerWins:
		return WinnerServer, true
	case ClientWins:
		return WinnerClient, true
	case TimestampBased:
		var lastSynced time.Time
		if in.Local != nil {
			lastSynced = in.Local.LastSyncedAt
		}
		if lastSynced.After(in.Server.UpdatedAt) {
			return WinnerClient, true
		}
		return WinnerServer, true
	}
	return "", false
}

// ServerOverlay returns server with the payload fields the server lacks
func ServerOverlay(server, payload backend.Fields) backend.Fields {
	out := server.Clone()
	if out == nil {
		out = backend.Fields{}
	}
	for k, v := range payload.Clone() {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// ClientOverlay returns server with every payload field written over it
func ClientOverlay(server, payload backend.Fields) backend.Fields {
	out := server.Clone()
	if out == nil {
		out = backend.Fields{}
	}
	for k, v := range payload.Clone() {
		out[k] = v
	}
	return out
}

func isBookkeepingField(k string) bool {
	switch k {
	case "id", "createdAt", "updatedAt":
		return true
	}
	return false
}

// sameValue compares two JSON-shaped values after normalizing them through
// encoding/json so that typed and decoded values agree.
func sameValue(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
