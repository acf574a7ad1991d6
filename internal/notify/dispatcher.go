package notify

import (
	"context"
	"sync"
	"time"

	"github.com/finch-app/finch-core/internal/errors"
	"github.com/finch-app/finch-core/internal/logging"
)

// DispatcherConfig controls the background notification loop.
type DispatcherConfig struct {
	// CheckInterval is how often due notifications are looked up.
	CheckInterval time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{CheckInterval: time.Minute}
}

// Dispatcher runs the notification loop in the background: on every
// tick it delivers due instances and then plans the next occurrence of
// each rule, so a fired notification immediately gets its successor
// scheduled. The first pass runs at startup, which is what catches
// instances that came due while the process was not running.
type Dispatcher struct {
	sched     *Scheduler
	deliverer Deliverer
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// NewDispatcher creates a background dispatcher. A nil config uses the
// defaults.
func NewDispatcher(sched *Scheduler, deliverer Deliverer, config *DispatcherConfig) *Dispatcher {
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	return &Dispatcher{
		sched:     sched,
		deliverer: deliverer,
		interval:  config.CheckInterval,
		now:       time.Now,
	}
}

// Start launches the background loop. Starting an already-running
// dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.loop(ctx)

	logging.Info("notification dispatcher started",
		map[string]interface{}{"check_interval_seconds": d.interval.Seconds()})
}

// Stop halts the background loop and waits for the in-flight pass to
// finish. Stopping an idle dispatcher is a no-op.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	logging.Info("notification dispatcher stopped", nil)
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	// Catch up immediately so firings missed while the process was down
	// go out without waiting a full interval.
	d.runOnce(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// runOnce delivers what is due, then replans so each fired rule gets a
// next instance on the books.
func (d *Dispatcher) runOnce(ctx context.Context) {
	now := d.now()

	delivered, err := d.sched.Dispatch(ctx, d.deliverer, now)
	if err != nil {
		logging.ErrorWithCode("notification dispatch failed",
			string(errors.CodeOf(err)), err, nil)
		return
	}
	if delivered > 0 {
		logging.Info("notifications delivered",
			map[string]interface{}{"count": delivered})
	}

	if _, err := d.sched.ScheduleAll(now); err != nil {
		logging.ErrorWithCode("notification planning failed",
			string(errors.CodeOf(err)), err, nil)
	}
}
