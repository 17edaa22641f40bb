package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/mwsrs/reviews/internal/offline/sync"
)

// Resolver replays the pending queue. sync.Coordinator implements it.
type Resolver interface {
	ResolvePending(ctx context.Context) (*sync.ReplayReport, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// TriggerFile starts a pass whenever it is created or written. Empty
	// disables file triggering.
	TriggerFile string

	// DebounceInterval batches bursts of trigger file writes into one pass.
	DebounceInterval time.Duration

	// PassTimeout bounds a single replay pass. Zero means no bound.
	PassTimeout time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		PassTimeout:      2 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon owns the replay triggers.
type Daemon struct {
	resolver Resolver
	config   *Config
	watcher  *TriggerWatcher

	kick chan struct{}

	triggeredAt time.Time
	triggerMu   gosync.Mutex

	reportMu   gosync.Mutex
	lastReport *sync.ReplayReport
	lastErr    error
	passes     atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
	stopOnce gosync.Once
}

// New creates a Daemon. A nil config uses DefaultConfig.
func New(resolver Resolver, config *Config) (*Daemon, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}

	d := &Daemon{
		resolver: resolver,
		config:   config,
		kick:     make(chan struct{}, 1),
	}
	if config.TriggerFile != "" {
		w, err := NewTriggerWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start runs an initial pass, then serves triggers until ctx is cancelled
// or Stop is called. A failing initial pass is logged, not returned.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.RunOnce(ctx); err != nil {
		d.config.Logger.Printf("Initial replay failed: %v", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.TriggerFile); err != nil {
			return fmt.Errorf("failed to watch trigger file: %w", err)
		}
		d.config.Logger.Printf("Watching trigger file: %s", d.config.TriggerFile)
		d.wg.Add(2)
		go d.watchTriggers()
		go d.processTriggers()
	}

	d.wg.Add(1)
	go d.replayLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for a running pass to finish.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Notify requests a replay pass. It never blocks; requests made while a
// pass is queued collapse into it.
func (d *Daemon) Notify() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// RunOnce performs one replay pass synchronously and records its outcome.
func (d *Daemon) RunOnce(ctx context.Context) (*sync.ReplayReport, error) {
	if d.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.PassTimeout)
		defer cancel()
	}

	report, err := d.resolver.ResolvePending(ctx)
	d.passes.Add(1)

	d.reportMu.Lock()
	d.lastReport, d.lastErr = report, err
	d.reportMu.Unlock()

	if err != nil {
		return report, fmt.Errorf("replay pass failed: %w", err)
	}
	if report.Resolved+report.Failed+report.Skipped > 0 {
		d.config.Logger.Printf("Replay: %d resolved, %d failed, %d skipped, %d remaining",
			report.Resolved, report.Failed, report.Skipped, report.Remaining)
	}
	return report, nil
}

// LastReport returns the outcome of the most recent pass.
func (d *Daemon) LastReport() (*sync.ReplayReport, error) {
	d.reportMu.Lock()
	defer d.reportMu.Unlock()
	return d.lastReport, d.lastErr
}

// Passes returns how many passes have run.
func (d *Daemon) Passes() int64 {
	return d.passes.Load()
}

func (d *Daemon) replayLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.kick:
			if _, err := d.RunOnce(d.ctx); err != nil && d.ctx.Err() == nil {
				d.config.Logger.Printf("Error: %v", err)
			}
		}
	}
}

// watchTriggers records trigger file events for debouncing.
func (d *Daemon) watchTriggers() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Trigger: %s %s", ev.Op, ev.Path)
			d.triggerMu.Lock()
			d.triggeredAt = ev.At
			d.triggerMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processTriggers turns a quiet trigger into a pass.
func (d *Daemon) processTriggers() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			d.triggerMu.Lock()
			due := !d.triggeredAt.IsZero() && now.Sub(d.triggeredAt) >= d.config.DebounceInterval
			if due {
				d.triggeredAt = time.Time{}
			}
			d.triggerMu.Unlock()
			if due {
				d.Notify()
			}
		}
	}
}
