// Package sync reconciles locally queued mutations with the remote
// authority and applies remote changes back to the local record store.
package sync

import (
	"context"

	"github.com/finch-app/finch-core/internal/models"
)

// PushStatus classifies the remote authority's answer to a push.
type PushStatus string

const (
	// PushApplied means the mutation was accepted. Record may carry an
	// authoritative echo (e.g. server-assigned timestamps) to merge.
	PushApplied PushStatus = "applied"
	// PushConflict means the remote holds a strictly newer version of
	// the record; Record carries the winning remote state.
	PushConflict PushStatus = "conflict"
	// PushRejected means the mutation is permanently invalid (e.g. a
	// referenced goal was deleted remotely). Never retried.
	PushRejected PushStatus = "rejected"
)

// PushResult is the remote authority's answer to one pushed mutation.
type PushResult struct {
	Status PushStatus
	Record *models.Payload
	Reason string
}

// Remote is the single remote authority. Push must be idempotent on the
// client-generated record id: replaying a push (a retried network call)
// must not create a duplicate remote record. Any returned error is
// treated as transient (network, timeout, server busy); permanent
// rejection is expressed through PushRejected.
type Remote interface {
	Push(ctx context.Context, op models.Operation, table string, id models.UUID, payload *models.Payload) (*PushResult, error)
	Pull(ctx context.Context, table string, since int64) ([]*models.Payload, error)
}

// Identity exposes the current user, or none while offline or
// unauthenticated. Capture stamps new records with it; a later identity
// change never rewrites already-queued entries.
type Identity interface {
	CurrentUserID() (string, bool)
}

// IdentityFunc adapts a function to the Identity interface.
type IdentityFunc func() (string, bool)

// CurrentUserID implements Identity.
func (f IdentityFunc) CurrentUserID() (string, bool) {
	return f()
}
