package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/finch-app/finch-core/internal/db"
	apperrors "github.com/finch-app/finch-core/internal/errors"
	"github.com/finch-app/finch-core/internal/logging"
	"github.com/finch-app/finch-core/internal/models"
	"github.com/finch-app/finch-core/internal/sync/conflict"
)

// Config bounds the engine's batching and retry behavior.
type Config struct {
	// BatchSize caps how many queue entries one pass loads at a time,
	// bounding wire payload size and lock duration.
	BatchSize int
	// BackoffBase is the delay after the first transient failure; each
	// further failure doubles it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// StallAttempts is the ceiling after which a still-failing entry is
	// surfaced as stalled. It keeps retrying; local edits are never
	// blocked by it.
	StallAttempts int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     50,
		BackoffBase:   time.Minute,
		BackoffMax:    time.Hour,
		StallAttempts: 6,
	}
}

// Engine drains the sync queue against the remote authority and applies
// remote changes back to the local store.
type Engine struct {
	repo     *db.Repository
	remote   Remote
	resolver *conflict.Resolver
	cfg      *Config

	mu       gosync.Mutex
	draining bool
	lastSync time.Time
	lastErr  error

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an Engine. A nil cfg selects DefaultConfig.
func NewEngine(repo *db.Repository, remote Remote, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		repo:     repo,
		remote:   remote,
		resolver: conflict.NewResolver(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	// Pushed counts entries acknowledged and removed from the queue.
	Pushed int
	// Superseded counts local edits discarded because the remote held a
	// strictly newer version.
	Superseded int
	// Rejected lists entries the remote permanently refused; they await
	// manual resolution and are excluded from automatic retries.
	Rejected []*models.QueueEntry
	// Stalled lists entries whose transient failures exceeded the
	// attempt ceiling. They stay pending.
	Stalled []*models.QueueEntry
	// Deferred reports that the pass stopped early on a backoff window
	// or transient failure, preserving per-record ordering.
	Deferred bool
	// Cancelled reports a cooperative cancellation mid-pass.
	Cancelled bool
}

// PullResult summarizes one pull pass.
type PullResult struct {
	// Applied counts remote records that won last-writer-wins locally.
	Applied int
	// Skipped counts remote records older than the local version.
	Skipped int
}

// SyncResult is the combined outcome of one Sync run.
type SyncResult struct {
	Drain     *DrainResult
	Pull      *PullResult
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// tryBegin claims the drain-in-progress flag. A second trigger while a
// pass runs coalesces into a no-op; the in-flight pass picks up entries
// added meanwhile.
func (e *Engine) tryBegin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		return false
	}
	e.draining = true
	return true
}

func (e *Engine) end(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draining = false
	e.lastErr = err
	if err == nil {
		e.lastSync = e.now()
	}
}

// LastSync returns when the last run completed without error.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the error of the last run, nil when it succeeded.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Sync runs one drain pass followed by one pull pass. Returns (nil, nil)
// when a run is already in flight.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if !e.tryBegin() {
		return nil, nil
	}

	result := &SyncResult{StartTime: e.now()}
	var err error
	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		e.end(err)
	}()

	result.Drain, err = e.drain(ctx)
	if err != nil {
		return result, err
	}
	result.Pull, err = e.pull(ctx)
	return result, err
}

// Drain processes pending queue entries. Returns (nil, nil) when another
// drain is in flight.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	if !e.tryBegin() {
		return nil, nil
	}
	result, err := e.drain(ctx)
	e.end(err)
	return result, err
}

// Pull fetches and applies remote changes. Returns (nil, nil) when a
// drain or pull is in flight.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	if !e.tryBegin() {
		return nil, nil
	}
	result, err := e.pull(ctx)
	e.end(err)
	return result, err
}

// drain walks the queue in FIFO order. Entries are never reordered: the
// first deferral (backoff window not elapsed, transient failure, or
// cancellation) ends the pass so a later entry can never be applied
// ahead of an earlier one for the same record.
func (e *Engine) drain(ctx context.Context) (*DrainResult, error) {
	result := &DrainResult{}

	for {
		entries, err := e.repo.PendingQueue(e.cfg.BatchSize)
		if err != nil {
			return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to load sync queue", err)
		}
		if len(entries) == 0 {
			return result, nil
		}

		processed := 0
		for _, entry := range entries {
			if ctx.Err() != nil {
				e.noteCancelled(entry, result)
				return result, ctx.Err()
			}

			now := e.now()
			if now.Before(entry.NextEligibleAt(e.cfg.BackoffBase, e.cfg.BackoffMax)) {
				result.Deferred = true
				return result, nil
			}
			if entry.Attempts >= e.cfg.StallAttempts {
				result.Stalled = append(result.Stalled, entry)
				logging.ErrorWithCode("sync entry stalled", string(apperrors.ErrSyncStalled),
					fmt.Errorf("%d attempts, last error: %s", entry.Attempts, entry.ErrorMessage),
					map[string]interface{}{"table": entry.TableName, "record_id": entry.RecordID})
			}

			payload, err := entry.DecodePayload()
			if err != nil {
				// Local defect, not retryable: park it for manual
				// resolution rather than wedging the queue.
				if terr := e.repo.MarkQueueTerminal(entry.Seq, now.Unix(), "undecodable payload: "+err.Error()); terr != nil {
					return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to park queue entry", terr)
				}
				result.Rejected = append(result.Rejected, entry)
				processed++
				continue
			}

			res, err := e.remote.Push(ctx, entry.Operation, entry.TableName, entry.RecordID, payload)
			if err != nil {
				if ctx.Err() != nil {
					e.noteCancelled(entry, result)
					return result, ctx.Err()
				}
				// Transient: book the failure and end the pass so this
				// record is retried before anything behind it.
				if ferr := e.repo.RecordQueueFailure(entry.Seq, now.Unix(), err.Error()); ferr != nil {
					return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to record sync failure", ferr)
				}
				result.Deferred = true
				logging.Warn("push failed, will retry with backoff",
					map[string]interface{}{
						"table":     entry.TableName,
						"record_id": entry.RecordID,
						"attempts":  entry.Attempts + 1,
						"error":     err.Error(),
					})
				return result, nil
			}

			if err := e.applyPushResult(ctx, entry, payload, res, result); err != nil {
				return result, err
			}
			processed++
		}

		if processed < len(entries) {
			return result, nil
		}
	}
}

// noteCancelled books the in-flight entry as a transient failure so the
// next pass retries it; it is never left partially applied.
func (e *Engine) noteCancelled(entry *models.QueueEntry, result *DrainResult) {
	result.Cancelled = true
	if err := e.repo.RecordQueueFailure(entry.Seq, e.now().Unix(), "drain cancelled"); err != nil {
		logging.Error("failed to record cancellation", err,
			map[string]interface{}{"seq": entry.Seq})
	}
}

// applyPushResult commits the local consequences of one push answer.
// Acknowledgment is conditional on the pushed snapshot: an edit that
// coalesced into the entry while the push was on the wire changes its
// payload, so the entry survives, the newer local state is never
// overwritten, and the next iteration pushes the coalesced snapshot.
func (e *Engine) applyPushResult(ctx context.Context, entry *models.QueueEntry, payload *models.Payload, res *PushResult, result *DrainResult) error {
	now := e.now()

	switch res.Status {
	case PushApplied:
		var acked bool
		err := e.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			acked, err = e.repo.AcknowledgeQueueEntryTx(tx, entry.Seq, entry.Payload)
			if err != nil {
				return err
			}

			if entry.Operation == models.OpDelete {
				if !acked {
					// The entry was repurposed mid-flight; the row
					// stays until that mutation syncs.
					return nil
				}
				// Remote confirmed the purge; the tombstone can go,
				// cascading dependent rows with it.
				return e.repo.HardDeleteRecordTx(tx, entry.TableName, entry.RecordID)
			}

			local, err := e.repo.LookupRecordTx(tx, entry.TableName, entry.RecordID)
			if err == sql.ErrNoRows {
				local = nil
			} else if err != nil {
				return err
			}

			base := payload
			if !acked && local != nil {
				base = local
			}
			merged := base
			if res.Record != nil {
				merged = e.resolver.Resolve(base, res.Record).Winner
			}
			if !acked && merged == base {
				// The newer local state stands and is still queued;
				// nothing to write.
				return nil
			}
			if acked {
				ts := now.Unix()
				merged.Meta().SyncedAt = &ts
			}
			return e.repo.UpsertRecordTx(tx, merged)
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrTransaction, "failed to acknowledge pushed entry", err)
		}
		if acked {
			result.Pushed++
		}
		return nil

	case PushConflict:
		// The remote holds a strictly newer version than the pushed
		// snapshot: that snapshot is superseded and discarded, remote
		// state overwrites local. No field-level merge is attempted.
		var acked bool
		err := e.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			acked, err = e.repo.AcknowledgeQueueEntryTx(tx, entry.Seq, entry.Payload)
			if err != nil {
				return err
			}
			if res.Record == nil {
				return nil
			}

			local, err := e.repo.LookupRecordTx(tx, entry.TableName, entry.RecordID)
			if err == sql.ErrNoRows {
				local = nil
			} else if err != nil {
				return err
			}
			if e.resolver.Resolve(local, res.Record).Side == conflict.SideLocal {
				// A mid-flight edit outruns the remote winner; it
				// stays queued and gets its own verdict next.
				return nil
			}
			if acked {
				ts := now.Unix()
				res.Record.Meta().SyncedAt = &ts
			}
			return e.repo.UpsertRecordTx(tx, res.Record)
		})
		if err != nil {
			return apperrors.Wrap(apperrors.ErrTransaction, "failed to apply remote conflict winner", err)
		}
		if acked {
			result.Superseded++
			logging.Info("local edit superseded by remote",
				map[string]interface{}{"table": entry.TableName, "record_id": entry.RecordID})
		}
		return nil

	case PushRejected:
		if err := e.repo.MarkQueueTerminal(entry.Seq, now.Unix(), res.Reason); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to park rejected entry", err)
		}
		result.Rejected = append(result.Rejected, entry)
		logging.ErrorWithCode("remote rejected mutation", string(apperrors.ErrSyncPermanent),
			fmt.Errorf("%s", res.Reason),
			map[string]interface{}{"table": entry.TableName, "record_id": entry.RecordID})
		return nil
	}

	return apperrors.New(apperrors.ErrInternal, "unknown push status "+string(res.Status))
}

// pull fetches remote records newer than each table's watermark and
// applies them under last-writer-wins. Records and the advanced
// watermark commit in one transaction per table, so a crash mid-pull
// safely re-pulls the same window.
func (e *Engine) pull(ctx context.Context) (*PullResult, error) {
	result := &PullResult{}

	for _, table := range models.SyncTables {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		since, err := e.repo.LastSyncAt(table)
		if err != nil {
			return result, apperrors.Wrap(apperrors.ErrDatabase, "failed to read sync watermark", err)
		}

		records, err := e.remote.Pull(ctx, table, since)
		if err != nil {
			return result, apperrors.Wrap(apperrors.ErrSyncTransient, "pull failed for "+table, err)
		}
		if len(records) == 0 {
			continue
		}

		watermark := since
		err = e.repo.DB().WithTx(ctx, func(tx *sql.Tx) error {
			for _, remote := range records {
				if err := remote.Validate(); err != nil {
					return err
				}
				local, err := e.repo.LookupRecordTx(tx, table, remote.Meta().ID)
				if err == sql.ErrNoRows {
					local = nil
				} else if err != nil {
					return err
				}

				if remote.Meta().UpdatedAt > watermark {
					watermark = remote.Meta().UpdatedAt
				}

				resolved := e.resolver.Resolve(local, remote)
				if resolved.Side == conflict.SideLocal {
					// Local is newer; the pending queue entry will
					// carry it to the remote on the next drain.
					result.Skipped++
					continue
				}

				ts := e.now().Unix()
				remote.Meta().SyncedAt = &ts
				if err := e.repo.UpsertRecordTx(tx, remote); err != nil {
					return err
				}
				if e.resolver.RemoteSupersedes(local, remote) {
					// Any pending local edit lost last-writer-wins.
					if err := e.repo.DeleteQueueEntryForTx(tx, table, remote.Meta().ID); err != nil {
						return err
					}
				}
				result.Applied++
			}
			return e.repo.SetLastSyncAtTx(tx, table, watermark)
		})
		if err != nil {
			return result, apperrors.Wrap(apperrors.ErrTransaction, "failed to apply pulled records for "+table, err)
		}
	}

	logging.Info("pull complete",
		map[string]interface{}{"applied": result.Applied, "skipped": result.Skipped})
	return result, nil
}
