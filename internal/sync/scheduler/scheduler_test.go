package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	syncpkg "github.com/finch-app/finch-core/internal/sync"
)

// fakeSyncer counts runs and signals each one.
type fakeSyncer struct {
	runs   atomic.Int64
	ran    chan struct{}
	result *syncpkg.SyncResult
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		ran:    make(chan struct{}, 16),
		result: &syncpkg.SyncResult{Drain: &syncpkg.DrainResult{}, Pull: &syncpkg.PullResult{}},
	}
}

func (f *fakeSyncer) Sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	f.runs.Add(1)
	f.ran <- struct{}{}
	return f.result, nil
}

func waitForRun(t *testing.T, f *fakeSyncer) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sync run")
	}
}

func TestTriggerSyncRunsEngine(t *testing.T) {
	engine := newFakeSyncer()
	s := New(engine, nil)

	s.TriggerSync(context.Background())
	waitForRun(t, engine)

	if engine.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", engine.runs.Load())
	}
}

func TestOfflineSuppressesRuns(t *testing.T) {
	engine := newFakeSyncer()
	s := New(engine, nil)

	s.SetOnlineStatus(context.Background(), false)
	s.TriggerSync(context.Background())

	time.Sleep(50 * time.Millisecond)
	if engine.runs.Load() != 0 {
		t.Errorf("runs = %d, offline trigger must be skipped", engine.runs.Load())
	}
}

func TestRegainingConnectivityTriggersImmediateRun(t *testing.T) {
	engine := newFakeSyncer()
	s := New(engine, nil)

	s.SetOnlineStatus(context.Background(), false)
	s.SetOnlineStatus(context.Background(), true)
	waitForRun(t, engine)

	// Setting the same status again must not fire another run.
	s.SetOnlineStatus(context.Background(), true)
	time.Sleep(50 * time.Millisecond)
	if engine.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", engine.runs.Load())
	}
}

func TestPeriodicLoop(t *testing.T) {
	engine := newFakeSyncer()
	s := New(engine, &Config{SyncInterval: 20 * time.Millisecond, SyncTimeout: time.Second})

	s.Start(context.Background())
	defer s.Stop()

	waitForRun(t, engine)
	waitForRun(t, engine)
	if engine.runs.Load() < 2 {
		t.Errorf("runs = %d, want at least 2 ticks", engine.runs.Load())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	engine := newFakeSyncer()
	s := New(engine, &Config{SyncInterval: time.Hour, SyncTimeout: time.Second})

	if s.IsRunning() {
		t.Error("scheduler reports running before Start")
	}
	s.Start(context.Background())
	s.Start(context.Background()) // second Start is a no-op
	if !s.IsRunning() {
		t.Error("scheduler not running after Start")
	}

	status := s.GetStatus()
	if !status.IsRunning || !status.IsOnline {
		t.Errorf("status = %+v", status)
	}
	if status.LastSyncTime != nil {
		t.Error("LastSyncTime set before any run")
	}

	s.Stop()
	s.Stop() // second Stop is a no-op
	if s.IsRunning() {
		t.Error("scheduler still running after Stop")
	}
}
