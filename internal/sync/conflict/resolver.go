// Package conflict provides per-record conflict resolution between local
// and remote record versions during synchronization.
package conflict

import (
	"github.com/finch-app/finch-core/internal/logging"
	"github.com/finch-app/finch-core/internal/models"
)

// Side names which version won a resolution.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Result is the outcome of resolving one record conflict.
type Result struct {
	Winner *models.Payload
	Loser  *models.Payload
	Side   Side
}

// Resolver applies last-writer-wins by updated_at. Ties resolve to the
// remote version: the remote store is the single authority, so when
// timestamps cannot order the versions its copy stands. Field-level
// merging is deliberately not attempted.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve picks the winner between a local and a remote version of the
// same record. Either side may be a tombstone; the timestamps decide
// regardless, so deletions propagate like any other write.
func (r *Resolver) Resolve(local, remote *models.Payload) *Result {
	if local == nil {
		return &Result{Winner: remote, Side: SideRemote}
	}
	if remote == nil {
		return &Result{Winner: local, Side: SideLocal}
	}

	res := &Result{}
	if remote.Meta().UpdatedAt >= local.Meta().UpdatedAt {
		res.Winner, res.Loser, res.Side = remote, local, SideRemote
	} else {
		res.Winner, res.Loser, res.Side = local, remote, SideLocal
	}

	logging.Debug("resolved record conflict",
		map[string]interface{}{
			"table":            res.Winner.Table,
			"record_id":        res.Winner.Meta().ID,
			"winner_side":      string(res.Side),
			"local_timestamp":  local.Meta().UpdatedAt,
			"remote_timestamp": remote.Meta().UpdatedAt,
		})
	return res
}

// RemoteSupersedes reports whether the remote version is strictly newer
// than the local one, i.e. a pending local edit has been superseded and
// its queue entry should be discarded.
func (r *Resolver) RemoteSupersedes(local, remote *models.Payload) bool {
	if local == nil || remote == nil {
		return local == nil && remote != nil
	}
	return remote.Meta().UpdatedAt > local.Meta().UpdatedAt
}
