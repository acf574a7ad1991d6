// Package scheduler runs the sync engine in the background: a periodic
// timer while online, plus an immediate run when connectivity returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/finch-app/finch-core/internal/errors"
	"github.com/finch-app/finch-core/internal/logging"
	syncpkg "github.com/finch-app/finch-core/internal/sync"
)

// Config holds scheduler configuration.
type Config struct {
	// SyncInterval is how often to sync while online.
	SyncInterval time.Duration
	// SyncTimeout bounds one engine run.
	SyncTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 15 * time.Minute,
		SyncTimeout:  5 * time.Minute,
	}
}

// Scheduler triggers engine runs. The engine itself coalesces
// overlapping triggers, so the scheduler can fire eagerly.
type Scheduler struct {
	engine       syncpkg.Syncer
	syncInterval time.Duration
	syncTimeout  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
}

// New creates a Scheduler. A nil config selects DefaultConfig.
func New(engine syncpkg.Syncer, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		syncTimeout:  config.SyncTimeout,
		stopCh:       make(chan struct{}),
		isOnline:     true,
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("background sync scheduler started",
		map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
}

// Stop shuts the scheduler down and waits for the loop to exit. An
// in-flight engine run finishes its cooperative cancellation first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("background sync scheduler stopped", nil)
}

// SetOnlineStatus flips the connectivity flag. Regaining connectivity
// triggers an immediate run; while offline the periodic timer idles and
// local edits keep accumulating in the queue.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("online status changed",
		map[string]interface{}{"was_online": wasOnline, "is_online": isOnline})

	if isOnline {
		go s.runSync(ctx)
	}
}

// TriggerSync requests an immediate run. Overlapping triggers coalesce
// inside the engine.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	go s.runSync(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("skipping sync, offline", nil)
		return
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		logging.ErrorWithCode("background sync failed", string(apperrors.CodeOf(err)), err, nil)
		return
	}
	if result == nil {
		// Another run was already in flight.
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	ctxMap := map[string]interface{}{"duration_ms": result.Duration.Milliseconds()}
	if result.Drain != nil {
		ctxMap["pushed"] = result.Drain.Pushed
		ctxMap["superseded"] = result.Drain.Superseded
		ctxMap["rejected"] = len(result.Drain.Rejected)
		ctxMap["deferred"] = result.Drain.Deferred
	}
	if result.Pull != nil {
		ctxMap["pulled"] = result.Pull.Applied
	}
	logging.Info("background sync completed", ctxMap)
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning    bool
	IsOnline     bool
	LastSyncTime *time.Time
}

// GetStatus returns the current status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{IsRunning: s.isRunning, IsOnline: s.isOnline}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsOnline reports whether the scheduler believes connectivity exists.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning reports whether the background loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
