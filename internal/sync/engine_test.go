package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/finch-app/finch-core/internal/db"
	"github.com/finch-app/finch-core/internal/models"
)

type pushCall struct {
	op models.Operation
	id models.UUID
}

// fakeRemote scripts the remote authority for engine tests.
type fakeRemote struct {
	mu     gosync.Mutex
	pushes []pushCall
	pushFn func(op models.Operation, table string, id models.UUID, payload *models.Payload) (*PushResult, error)
	pullFn func(table string, since int64) ([]*models.Payload, error)
}

func (f *fakeRemote) Push(_ context.Context, op models.Operation, table string, id models.UUID, payload *models.Payload) (*PushResult, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, pushCall{op: op, id: id})
	f.mu.Unlock()
	if f.pushFn != nil {
		return f.pushFn(op, table, id, payload)
	}
	return &PushResult{Status: PushApplied}, nil
}

func (f *fakeRemote) Pull(_ context.Context, table string, since int64) ([]*models.Payload, error) {
	if f.pullFn != nil {
		return f.pullFn(table, since)
	}
	return nil, nil
}

func (f *fakeRemote) pushed() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushCall(nil), f.pushes...)
}

func newTestEngine(t *testing.T, remote Remote) (*Engine, *db.Repository, *Capture) {
	t.Helper()
	repo := newTestRepo(t)
	return NewEngine(repo, remote, nil), repo, NewCapture(repo, nil)
}

func TestSyncPushesQueueInOrder(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	var ids []models.UUID
	for i := 0; i < 3; i++ {
		p := newExpensePayload()
		if err := capture.Create(context.Background(), p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, p.Meta().ID)
	}

	result, err := engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Drain.Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", result.Drain.Pushed)
	}

	calls := remote.pushed()
	if len(calls) != 3 {
		t.Fatalf("remote saw %d pushes, want 3", len(calls))
	}
	for i, call := range calls {
		if call.id != ids[i] {
			t.Errorf("push %d carried %s, want %s (queue order lost)", i, call.id, ids[i])
		}
	}

	n, err := repo.PendingQueueSize()
	if err != nil {
		t.Fatalf("PendingQueueSize failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queue not drained: %d entries left", n)
	}

	// Acknowledged records carry the sync marker.
	got, err := repo.GetRecord("expenses", ids[0])
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Meta().SyncedAt == nil {
		t.Error("synced_at not stamped after acknowledgment")
	}
}

func TestDrainConflictAppliesRemoteVersion(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	winner := newExpensePayload()
	winner.Expense.Category = "remote edit"
	winner.Meta().ID = p.Meta().ID
	winner.Meta().CreatedAt = p.Meta().CreatedAt
	winner.Meta().UpdatedAt = p.Meta().UpdatedAt + 100
	remote.pushFn = func(models.Operation, string, models.UUID, *models.Payload) (*PushResult, error) {
		return &PushResult{Status: PushConflict, Record: winner}, nil
	}

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Superseded != 1 {
		t.Errorf("Superseded = %d, want 1", result.Superseded)
	}

	got, err := repo.GetRecord("expenses", p.Meta().ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Expense.Category != "remote edit" {
		t.Errorf("category = %q, remote winner was not applied", got.Expense.Category)
	}

	n, _ := repo.PendingQueueSize()
	if n != 0 {
		t.Errorf("superseded entry still pending")
	}
}

func TestDrainRejectedParksEntry(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	remote.pushFn = func(models.Operation, string, models.UUID, *models.Payload) (*PushResult, error) {
		return &PushResult{Status: PushRejected, Reason: "referenced goal deleted"}, nil
	}

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(result.Rejected))
	}

	pending, _ := repo.PendingQueueSize()
	if pending != 0 {
		t.Errorf("rejected entry still in the pending set")
	}
	terminal, err := repo.TerminalQueueEntries()
	if err != nil {
		t.Fatalf("TerminalQueueEntries failed: %v", err)
	}
	if len(terminal) != 1 || terminal[0].ErrorMessage != "referenced goal deleted" {
		t.Errorf("terminal set = %+v", terminal)
	}
}

func TestDrainTransientFailureStopsPass(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	first := newExpensePayload()
	second := newExpensePayload()
	for _, p := range []*models.Payload{first, second} {
		if err := capture.Create(context.Background(), p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	remote.pushFn = func(models.Operation, string, models.UUID, *models.Payload) (*PushResult, error) {
		return nil, fmt.Errorf("connection refused")
	}

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain must swallow transient failures: %v", err)
	}
	if !result.Deferred {
		t.Error("expected the pass to defer")
	}
	// Ordering: the second entry must not jump the failed first one.
	if calls := remote.pushed(); len(calls) != 1 || calls[0].id != first.Meta().ID {
		t.Errorf("pushes = %+v, want only the first entry", calls)
	}

	entry, err := repo.QueueEntryFor("expenses", first.Meta().ID)
	if err != nil {
		t.Fatalf("QueueEntryFor failed: %v", err)
	}
	if entry.Attempts != 1 || entry.ErrorMessage != "connection refused" {
		t.Errorf("failure not booked: attempts=%d error=%q", entry.Attempts, entry.ErrorMessage)
	}
}

func TestDrainHonorsBackoffWindow(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	entry, err := repo.QueueEntryFor("expenses", p.Meta().ID)
	if err != nil {
		t.Fatalf("QueueEntryFor failed: %v", err)
	}

	failedAt := time.Now()
	if err := repo.RecordQueueFailure(entry.Seq, failedAt.Unix(), "busy"); err != nil {
		t.Fatalf("RecordQueueFailure failed: %v", err)
	}

	// Thirty seconds later the one-minute base backoff has not elapsed.
	engine.now = func() time.Time { return failedAt.Add(30 * time.Second) }
	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if !result.Deferred || len(remote.pushed()) != 0 {
		t.Errorf("entry attempted inside its backoff window")
	}

	// After the window it goes out.
	engine.now = func() time.Time { return failedAt.Add(2 * time.Minute) }
	result, err = engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1 after backoff elapsed", result.Pushed)
	}
}

func TestDrainSurfacesStalledEntries(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	entry, err := repo.QueueEntryFor("expenses", p.Meta().ID)
	if err != nil {
		t.Fatalf("QueueEntryFor failed: %v", err)
	}
	failedAt := time.Now().Add(-24 * time.Hour)
	for i := 0; i < engine.cfg.StallAttempts; i++ {
		if err := repo.RecordQueueFailure(entry.Seq, failedAt.Unix(), "timeout"); err != nil {
			t.Fatalf("RecordQueueFailure failed: %v", err)
		}
	}

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(result.Stalled) != 1 {
		t.Fatalf("Stalled = %d, want 1", len(result.Stalled))
	}
	// Stalled entries still retry; they are surfaced, not parked.
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, stalled entry must keep retrying", result.Pushed)
	}
}

func TestDrainDeleteHardDeletesAfterAck(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("first Drain failed: %v", err)
	}

	if err := capture.Delete(context.Background(), "expenses", p.Meta().ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := engine.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}

	// Remote confirmed the purge; the tombstone is gone for good.
	if _, err := repo.LookupRecord("expenses", p.Meta().ID); err != sql.ErrNoRows {
		t.Errorf("row survived a confirmed purge: %v", err)
	}
	if calls := remote.pushed(); len(calls) != 2 || calls[1].op != models.OpDelete {
		t.Errorf("pushes = %+v, want create then delete", calls)
	}
}

func TestDrainPreservesMidFlightEdit(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// While the first push is on the wire, the user edits the record.
	// The edit coalesces into the queued entry, so the acknowledgment
	// must not remove it or overwrite the newer local state.
	edited := false
	remote.pushFn = func(_ models.Operation, _ string, _ models.UUID, _ *models.Payload) (*PushResult, error) {
		if !edited {
			edited = true
			upd := newExpensePayload()
			upd.Meta().ID = p.Meta().ID
			upd.Meta().CreatedAt = p.Meta().CreatedAt
			upd.Expense.Note = "edited mid-flight"
			if err := capture.Update(context.Background(), upd); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
		}
		return &PushResult{Status: PushApplied}, nil
	}

	result, err := engine.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	got, err := repo.GetRecord("expenses", p.Meta().ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Expense.Note != "edited mid-flight" {
		t.Errorf("note = %q, acknowledgment overwrote the coalesced edit", got.Expense.Note)
	}

	// The second iteration of the same pass pushes the edited snapshot.
	if calls := remote.pushed(); len(calls) != 2 {
		t.Fatalf("remote saw %d pushes, want 2 (stale ack then edited snapshot)", len(calls))
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1 (the stale acknowledgment is not a push)", result.Pushed)
	}
	n, err := repo.PendingQueueSize()
	if err != nil {
		t.Fatalf("PendingQueueSize failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queue not drained: %d entries left", n)
	}
	if got.Meta().SyncedAt == nil {
		t.Error("synced_at not stamped after the edited snapshot was acknowledged")
	}
}

func TestDrainCancellationBooksFailure(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	p := newExpensePayload()
	if err := capture.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	remote.pushFn = func(models.Operation, string, models.UUID, *models.Payload) (*PushResult, error) {
		cancel()
		return nil, ctx.Err()
	}

	result, err := engine.Drain(ctx)
	if err != context.Canceled {
		t.Fatalf("Drain error = %v, want context.Canceled", err)
	}
	if !result.Cancelled {
		t.Error("result does not report the cancellation")
	}

	entry, err := repo.QueueEntryFor("expenses", p.Meta().ID)
	if err != nil {
		t.Fatalf("QueueEntryFor failed: %v", err)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts = %d, cancellation must count as a transient failure", entry.Attempts)
	}
}

func TestOverlappingRunsCoalesce(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeRemote{})
	engine.mu.Lock()
	engine.draining = true
	engine.mu.Unlock()

	result, err := engine.Sync(context.Background())
	if result != nil || err != nil {
		t.Errorf("overlapping Sync = (%v, %v), want (nil, nil)", result, err)
	}
}

func TestPullAppliesLastWriterWins(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	// A local pending edit the remote has since overwritten.
	superseded := newExpensePayload()
	if err := capture.Create(context.Background(), superseded); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// A local edit newer than anything remote.
	localWins := newExpensePayload()
	if err := capture.Create(context.Background(), localWins); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	remoteNewer := newExpensePayload()
	remoteNewer.Expense.Category = "remote overwrite"
	remoteNewer.Meta().ID = superseded.Meta().ID
	remoteNewer.Meta().CreatedAt = superseded.Meta().CreatedAt
	remoteNewer.Meta().UpdatedAt = superseded.Meta().UpdatedAt + 50

	remoteOlder := newExpensePayload()
	remoteOlder.Meta().ID = localWins.Meta().ID
	remoteOlder.Meta().CreatedAt = localWins.Meta().CreatedAt
	remoteOlder.Meta().UpdatedAt = localWins.Meta().UpdatedAt - 50

	remote.pullFn = func(table string, since int64) ([]*models.Payload, error) {
		if table != "expenses" {
			return nil, nil
		}
		return []*models.Payload{remoteNewer, remoteOlder}, nil
	}

	result, err := engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if result.Applied != 1 || result.Skipped != 1 {
		t.Errorf("Pull = %+v, want 1 applied / 1 skipped", result)
	}

	got, err := repo.GetRecord("expenses", superseded.Meta().ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Expense.Category != "remote overwrite" {
		t.Errorf("remote winner not applied: %q", got.Expense.Category)
	}

	// The superseded pending edit is discarded; the winning local edit
	// stays queued for the next drain.
	if _, err := repo.QueueEntryFor("expenses", superseded.Meta().ID); err != sql.ErrNoRows {
		t.Errorf("superseded queue entry still present: %v", err)
	}
	if _, err := repo.QueueEntryFor("expenses", localWins.Meta().ID); err != nil {
		t.Errorf("winning local edit lost its queue entry: %v", err)
	}

	// The watermark advanced to the newest remote timestamp seen.
	ts, err := repo.LastSyncAt("expenses")
	if err != nil {
		t.Fatalf("LastSyncAt failed: %v", err)
	}
	if ts != remoteNewer.Meta().UpdatedAt {
		t.Errorf("watermark = %d, want %d", ts, remoteNewer.Meta().UpdatedAt)
	}
}

func TestPullTieResolvesToRemote(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, capture := newTestEngine(t, remote)

	local := newExpensePayload()
	if err := capture.Create(context.Background(), local); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tied := newExpensePayload()
	tied.Expense.Category = "remote tie"
	tied.Meta().ID = local.Meta().ID
	tied.Meta().CreatedAt = local.Meta().CreatedAt
	tied.Meta().UpdatedAt = local.Meta().UpdatedAt
	remote.pullFn = func(table string, since int64) ([]*models.Payload, error) {
		if table != "expenses" {
			return nil, nil
		}
		return []*models.Payload{tied}, nil
	}

	result, err := engine.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("Applied = %d, equal timestamps must apply the remote copy", result.Applied)
	}

	got, err := repo.GetRecord("expenses", local.Meta().ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Expense.Category != "remote tie" {
		t.Errorf("category = %q, want the remote version", got.Expense.Category)
	}
	// A tie does not strictly supersede: the pending local edit still
	// goes out on the next drain.
	if _, err := repo.QueueEntryFor("expenses", local.Meta().ID); err != nil {
		t.Errorf("tie discarded the pending local edit: %v", err)
	}
}

func TestPullDeliversRemoteTombstone(t *testing.T) {
	remote := &fakeRemote{}
	engine, repo, _ := newTestEngine(t, remote)

	// A synced record with no pending edits.
	existing := newExpensePayload()
	existing.Meta().ID = "11111111-1111-4111-8111-111111111111"
	existing.Meta().CreatedAt = 1000
	existing.Meta().UpdatedAt = 1000
	if err := repo.UpsertRecord(existing); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tombstone := newExpensePayload()
	tombstone.Meta().ID = existing.Meta().ID
	tombstone.Meta().CreatedAt = 1000
	tombstone.Meta().UpdatedAt = 2000
	deletedAt := int64(2000)
	tombstone.Meta().DeletedAt = &deletedAt
	remote.pullFn = func(table string, since int64) ([]*models.Payload, error) {
		if table != "expenses" {
			return nil, nil
		}
		return []*models.Payload{tombstone}, nil
	}

	if _, err := engine.Pull(context.Background()); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	// Gone from the live view, kept as a tombstone.
	if _, err := repo.GetRecord("expenses", existing.Meta().ID); err != sql.ErrNoRows {
		t.Errorf("remote deletion not reflected locally: %v", err)
	}
	got, err := repo.LookupRecord("expenses", existing.Meta().ID)
	if err != nil {
		t.Fatalf("LookupRecord failed: %v", err)
	}
	if !got.Meta().IsDeleted() {
		t.Error("pulled deletion lost its tombstone")
	}
}

func TestPullTransientFailure(t *testing.T) {
	remote := &fakeRemote{}
	engine, _, _ := newTestEngine(t, remote)
	remote.pullFn = func(string, int64) ([]*models.Payload, error) {
		return nil, fmt.Errorf("gateway timeout")
	}

	_, err := engine.Pull(context.Background())
	if err == nil {
		t.Fatal("expected pull failure to surface")
	}
}
