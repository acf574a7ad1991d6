package sync

import (
	"context"
	"database/sql"
	"time"

	"github.com/finch-app/finch-core/internal/db"
	apperrors "github.com/finch-app/finch-core/internal/errors"
	"github.com/finch-app/finch-core/internal/logging"
	"github.com/finch-app/finch-core/internal/models"
	"github.com/finch-app/finch-core/internal/uuid"
)

// Capture intercepts every local mutation on syncable entities: the row
// write and the queue upsert commit in one local transaction, so no
// reader ever observes a mutation without its queue entry or the other
// way round.
type Capture struct {
	repo     *db.Repository
	identity Identity

	// now is swappable for tests.
	now func() time.Time
}

// NewCapture creates a Capture. identity may be nil, meaning records are
// created unowned (offline/unauthenticated) and adopted on first sync.
func NewCapture(repo *db.Repository, identity Identity) *Capture {
	return &Capture{
		repo:     repo,
		identity: identity,
		now:      time.Now,
	}
}

// Create applies a local create: stamps id, ownership and timestamps,
// writes the row and enqueues the mutation atomically.
func (c *Capture) Create(ctx context.Context, p *models.Payload) error {
	now := c.now()
	meta := p.Meta()
	if meta == nil {
		return apperrors.New(apperrors.ErrValidation, "payload carries no record")
	}
	if meta.ID == "" {
		meta.ID = models.UUID(uuid.New())
	}
	if c.identity != nil {
		if userID, ok := c.identity.CurrentUserID(); ok {
			meta.UserID = &userID
		}
	}
	meta.CreatedAt = now.Unix()
	meta.UpdatedAt = now.Unix()

	return c.commit(ctx, models.OpCreate, p, now)
}

// Update applies a local update: advances updated_at and commits row and
// queue entry together. The queue coalesces with any pending entry for
// the record.
func (c *Capture) Update(ctx context.Context, p *models.Payload) error {
	now := c.now()
	meta := p.Meta()
	if meta == nil {
		return apperrors.New(apperrors.ErrValidation, "payload carries no record")
	}
	meta.Touch(now)

	return c.commit(ctx, models.OpUpdate, p, now)
}

// Delete applies a local soft delete: the row keeps existing with a
// deleted_at tombstone so the deletion itself can sync. A delete of a
// record the remote never saw cancels the pending create outright.
func (c *Capture) Delete(ctx context.Context, table string, id models.UUID) error {
	now := c.now()

	p, err := c.repo.LookupRecord(table, id)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load record", err)
	}
	p.Meta().MarkDeleted(now)

	return c.commit(ctx, models.OpDelete, p, now)
}

// commit runs the combined write+enqueue transaction. Failure of either
// statement rolls back both; no partial state is ever visible.
func (c *Capture) commit(ctx context.Context, op models.Operation, p *models.Payload, now time.Time) error {
	var outcome db.EnqueueOutcome
	err := c.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.repo.UpsertRecordTx(tx, p); err != nil {
			return err
		}
		var err error
		outcome, err = c.repo.EnqueueTx(tx, op, p, now)
		return err
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransaction, "local write and enqueue did not commit", err)
	}

	logging.Debug("captured local mutation",
		map[string]interface{}{
			"table":     p.Table,
			"record_id": p.Meta().ID,
			"operation": string(op),
			"queue":     string(outcome),
		})
	return nil
}
