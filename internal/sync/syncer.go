package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"

	"github.com/frotahub/frotahub/internal/schema"
	"github.com/frotahub/frotahub/internal/store"
	"github.com/frotahub/frotahub/internal/transport"
)

// ErrSyncInFlight indicates a sync pass was skipped because another one is
// already running. Callers generally treat this as a no-op, not a failure.
var ErrSyncInFlight = errors.New("sync already in flight")

// State is the visible sync indicator state.
//
// Transitions: idle -> syncing -> (idle | error). The error state is sticky
// until the next fully successful pass and is advisory only - it never blocks
// future attempts.
type State string

const (
	// StateIdle means no pass is running and the last one succeeded.
	StateIdle State = "idle"
	// StateSyncing means a push or pull pass is in flight.
	StateSyncing State = "syncing"
	// StateError means the last pass failed; retried on the next tick.
	StateError State = "error"
)

// Events receives sync lifecycle notifications, e.g. for the dashboard.
// Implementations must not block; they are called from the sync pass.
type Events interface {
	// OnStateChange fires on every indicator state transition.
	OnStateChange(state State)
	// OnRecordPushed fires after a submission is marked synced.
	OnRecordPushed(sub *schema.Submission)
	// OnPushComplete fires at the end of an outbound pass.
	OnPushComplete(pushed int, err error)
	// OnPullComplete fires after a successful inbound merge.
	OnPullComplete(merged int, rosterReplaced bool)
}

// nopEvents is the default Events implementation.
type nopEvents struct{}

func (nopEvents) OnStateChange(State)               {}
func (nopEvents) OnRecordPushed(*schema.Submission) {}
func (nopEvents) OnPushComplete(int, error)         {}
func (nopEvents) OnPullComplete(int, bool)          {}

// Config holds syncer configuration.
type Config struct {
	// ContinueOnError keeps draining the queue past a failed item instead of
	// halting the pass (fail-fast). Default false: one network failure stops
	// the remainder, and the failed items stay pending for the next tick.
	ContinueOnError bool

	// Events receives lifecycle notifications. Nil means none.
	Events Events

	// Logger for sync activity.
	Logger *log.Logger
}

// Syncer drains pending submissions to the remote endpoint and folds the
// authoritative remote set back into the local store.
//
// At most one pass runs at a time, guarded by a try-lock: an overlapping
// trigger is a no-op rather than a queued second pass.
type Syncer struct {
	store  *store.Store
	client *transport.Client
	config *Config

	passMu stdsync.Mutex // held for the duration of a pass

	mu      stdsync.Mutex // guards state and lastErr
	state   State
	lastErr error
}

// New creates a new Syncer.
//
// The store must be opened and have its schema initialized. If config is nil
// or partially filled, defaults apply.
func New(st *store.Store, client *transport.Client, config *Config) *Syncer {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Events == nil {
		config.Events = nopEvents{}
	}

	return &Syncer{
		store:  st,
		client: client,
		config: config,
		state:  StateIdle,
	}
}

// State returns the current indicator state and the sticky error, if any.
func (s *Syncer) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// setState records a state transition and notifies the event sink.
func (s *Syncer) setState(state State, err error) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.lastErr = err
	s.mu.Unlock()

	if changed {
		s.config.Events.OnStateChange(state)
	}
}

// PushPending drains locally pending submissions to the remote endpoint.
//
// Records are pushed strictly in sequence. Each write is response-blind: no
// transport error means the record is marked synced. Under the default
// fail-fast policy the first failure halts the remainder of the queue; the
// failed and unvisited records stay pending and are retried from scratch on
// the next pass. There is no backoff and no dead-letter queue - a record that
// always fails will block everything behind it on every pass.
//
// A pass already in flight makes this a no-op returning ErrSyncInFlight.
// An unconfigured endpoint is a silent no-op.
func (s *Syncer) PushPending(ctx context.Context) error {
	if !s.client.HasEndpoint() {
		return nil
	}
	if !s.passMu.TryLock() {
		return ErrSyncInFlight
	}
	defer s.passMu.Unlock()

	pending, err := s.store.GetPendingSubmissions(ctx)
	if err != nil {
		s.setState(StateError, err)
		return fmt.Errorf("failed to load pending submissions: %w", err)
	}

	if len(pending) == 0 {
		s.setState(StateIdle, nil)
		return nil
	}

	s.setState(StateSyncing, nil)
	s.config.Logger.Printf("Pushing %d pending submissions", len(pending))

	var pushed int
	var firstErr error
	for _, sub := range pending {
		if err := s.client.PushReport(ctx, sub); err != nil {
			s.config.Logger.Printf("Push failed for %s: %v", sub.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			if !s.config.ContinueOnError {
				break
			}
			continue
		}

		// No transport error: the endpoint probably received it. The
		// response cannot be inspected, so this is as good as it gets.
		if err := s.store.MarkSynced(ctx, sub.ID); err != nil {
			s.setState(StateError, err)
			s.config.Events.OnPushComplete(pushed, err)
			return fmt.Errorf("failed to mark %s synced: %w", sub.ID, err)
		}
		pushed++
		s.config.Events.OnRecordPushed(sub)
	}

	if firstErr != nil {
		s.setState(StateError, firstErr)
		s.config.Events.OnPushComplete(pushed, firstErr)
		return fmt.Errorf("push pass incomplete (%d of %d sent): %w", pushed, len(pending), firstErr)
	}

	s.setState(StateIdle, nil)
	s.config.Events.OnPushComplete(pushed, nil)
	s.config.Logger.Printf("Push complete: %d submissions synced", pushed)
	return nil
}

// Pull fetches the authoritative remote set and folds it into local state.
//
// Merge policy is remote-wins-by-id: remote copies overwrite local ones
// entirely and are forced synced; local records the remote side has never
// seen survive untouched. Remote deletions do not propagate. A non-empty
// roster in the response replaces the local roster and tags it cloud-sourced;
// an empty or absent one leaves the roster alone.
//
// When silent is true (background polling) errors are logged and swallowed
// without touching the sticky error flag; foreground pulls surface them.
func (s *Syncer) Pull(ctx context.Context, silent bool) error {
	if !s.client.HasEndpoint() {
		return nil
	}
	if !s.passMu.TryLock() {
		return ErrSyncInFlight
	}
	defer s.passMu.Unlock()

	// A sticky error from an earlier failed push survives the pull: only a
	// fully successful pass returns the indicator to idle.
	prevState, prevErr := s.State()
	s.setState(StateSyncing, prevErr)

	resp, err := s.client.Pull(ctx)
	if err != nil {
		if silent {
			s.config.Logger.Printf("Background pull failed: %v", err)
			s.setState(prevState, prevErr)
			return nil
		}
		s.setState(StateError, err)
		return fmt.Errorf("pull failed: %w", err)
	}

	if err := s.store.UpsertFromRemote(ctx, resp.Submissions); err != nil {
		s.setState(StateError, err)
		return fmt.Errorf("failed to merge remote submissions: %w", err)
	}

	rosterReplaced := false
	if len(resp.Roster) > 0 {
		if err := s.store.ReplaceRoster(ctx, resp.Roster, schema.SourceCloud); err != nil {
			s.setState(StateError, err)
			return fmt.Errorf("failed to replace roster: %w", err)
		}
		rosterReplaced = true
		s.config.Logger.Printf("Roster replaced from cloud: %d units", len(resp.Roster))
	}

	// The pull half succeeded, but a pass that failed its push half is not a
	// successful pass: the backlog is still pending and the error stays.
	if prevErr != nil {
		s.setState(StateError, prevErr)
	} else {
		s.setState(StateIdle, nil)
	}
	s.config.Events.OnPullComplete(len(resp.Submissions), rosterReplaced)
	return nil
}

// PassOptions configures one full sync pass.
type PassOptions struct {
	// Privileged enables the inbound pull half of the pass.
	Privileged bool
	// Silent swallows pull errors (background polling behavior).
	Silent bool
}

// SyncPass runs one outbound-drain-then-inbound-pull sequence.
//
// This is the single code path behind both the scheduler tick and manual
// triggers. ErrSyncInFlight from either half is treated as a no-op.
func (s *Syncer) SyncPass(ctx context.Context, opts PassOptions) error {
	if err := s.PushPending(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
		if !opts.Silent {
			return err
		}
		s.config.Logger.Printf("Push pass failed: %v", err)
	}

	if !opts.Privileged {
		return nil
	}

	if err := s.Pull(ctx, opts.Silent); err != nil && !errors.Is(err, ErrSyncInFlight) {
		return err
	}
	return nil
}
