// Package daemon provides the sync scheduler that drives periodic push/pull
// passes and ingests submission files dropped into the intake directory.
//
// The daemon:
//  1. Runs one sync pass per tick (push, then pull for privileged sessions)
//  2. Watches the intake directory for new submission JSON files
//  3. Saves ingested submissions as pending and triggers an immediate pass
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/frotahub/frotahub/internal/schema"
	"github.com/frotahub/frotahub/internal/store"
	"github.com/frotahub/frotahub/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a scheduled sync pass runs.
	SyncInterval time.Duration

	// Privileged enables the inbound pull half of each pass.
	Privileged bool

	// IntakeDir is the directory watched for dropped submission files.
	// Empty disables the intake watcher.
	IntakeDir string

	// DebounceInterval is how long to wait before processing intake file
	// changes, batching rapid writes together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the sync schedule and intake ingestion.
type Daemon struct {
	store  *store.Store
	syncer *sync.Syncer
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> queued at
	changeQueueMu stdsync.Mutex

	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon instance. Use Start() to begin scheduling.
func New(st *store.Store, syncer *sync.Syncer, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	return &Daemon{
		store:       st,
		syncer:      syncer,
		config:      config,
		changeQueue: make(map[string]time.Time),
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon runs an immediate first pass, then one pass per SyncInterval
// tick, plus out-of-band passes whenever TriggerSync is called or a file
// lands in the intake directory. This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval: %v, privileged: %v)",
		d.config.SyncInterval, d.config.Privileged)

	// The internal context lives from Start to Stop; creating it here keeps
	// a constructed-but-never-started daemon from holding a cancel func.
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if d.config.IntakeDir != "" {
		if err := os.MkdirAll(d.config.IntakeDir, 0755); err != nil {
			return fmt.Errorf("failed to create intake directory: %w", err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		if err := d.watcher.Add(d.config.IntakeDir); err != nil {
			return fmt.Errorf("failed to watch intake directory: %w", err)
		}
		d.config.Logger.Printf("Watching intake: %s", d.config.IntakeDir)

		// Pick up files that arrived while the daemon was down.
		d.ingestExisting()

		d.wg.Add(2)
		go d.watchIntakeEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.scheduleLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	if d.cancel != nil {
		d.cancel()
	}

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// TriggerSync requests an immediate out-of-band sync pass.
//
// Manual triggers run through the same pass function as scheduled ticks.
// Triggers arriving while one is already queued coalesce.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// scheduleLoop runs sync passes on the ticker and on manual triggers.
func (d *Daemon) scheduleLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	d.runSyncPass()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runSyncPass()

		case <-d.trigger:
			d.runSyncPass()
		}
	}
}

// runSyncPass executes one push-then-pull sequence. Scheduled passes are
// silent: failures are logged and retried next tick, never fatal.
func (d *Daemon) runSyncPass() {
	err := d.syncer.SyncPass(d.ctx, sync.PassOptions{
		Privileged: d.config.Privileged,
		Silent:     true,
	})
	if err != nil {
		d.config.Logger.Printf("Sync pass error: %v", err)
	}
}

// watchIntakeEvents monitors filesystem events and queues intake files.
func (d *Daemon) watchIntakeEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue ingests queued intake files once they settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges ingests files that have been queued for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	ingested := 0
	for _, path := range ready {
		if err := d.ingestFile(path); err != nil {
			d.config.Logger.Printf("Failed to ingest %s: %v", filepath.Base(path), err)
			continue
		}
		ingested++
	}

	if ingested > 0 {
		d.TriggerSync()
	}
}

// ingestExisting queues any submission files already sitting in the intake
// directory at startup.
func (d *Daemon) ingestExisting() {
	entries, err := os.ReadDir(d.config.IntakeDir)
	if err != nil {
		d.config.Logger.Printf("Failed to scan intake directory: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		d.queueChange(filepath.Join(d.config.IntakeDir, entry.Name()))
	}
}

// ingestFile reads a dropped submission file, saves it as pending and
// removes the file. Files without an id or timestamp get them assigned here,
// so a form producer only has to emit the report content.
func (d *Daemon) ingestFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // already consumed by an earlier batch
	}

	sub, err := ReadIntakeFile(path)
	if err != nil {
		return err
	}

	if err := d.store.SaveSubmission(d.ctx, sub); err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}

	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to remove ingested file %s: %v", path, err)
	}

	d.config.Logger.Printf("Ingested submission %s (unit %s)", sub.ID, sub.UnitID)
	return nil
}

// ReadIntakeFile parses a submission dropped into the intake directory.
//
// Unlike schema.ReadSubmissionFile this is lenient about identity fields:
// a missing id or timestamp is filled in at ingest time.
func ReadIntakeFile(path string) (*schema.Submission, error) {
	sub, err := readLenient(path)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sub.Timestamp.IsZero() {
		sub.Timestamp = now
	}
	if sub.ID == "" {
		sub.ID = schema.NewSubmissionID(sub.Timestamp)
	}
	if sub.OperationalDate == "" {
		sub.OperationalDate = sub.Timestamp.Format("2006-01-02")
	}
	sub.Normalize()

	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("invalid intake file %s: %w", path, err)
	}

	return sub, nil
}

// readLenient parses the JSON body without schema validation.
func readLenient(path string) (*schema.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intake file %s: %w", path, err)
	}

	var sub schema.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse intake file %s: %w", path, err)
	}

	return &sub, nil
}
