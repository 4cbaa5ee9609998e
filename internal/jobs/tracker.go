package jobs

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"audio-analyser/internal/models"
)

// ErrAlreadyRunning is returned when a run is triggered while one is active for the same kind.
var ErrAlreadyRunning = errors.New("job already running")

// ErrInvalidTransition is returned for state changes outside the run lifecycle.
var ErrInvalidTransition = errors.New("invalid state transition")

// Tracker holds the in-memory status of every job kind. A restart resets all kinds to
// NotStarted. Reads never wait on a running batch.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[models.Kind]models.JobStatus
	now      func() time.Time
}

// NewTracker creates a tracker with every kind NotStarted.
func NewTracker() *Tracker {
	t := &Tracker{
		statuses: make(map[models.Kind]models.JobStatus, len(models.Kinds)),
		now:      time.Now,
	}
	for _, k := range models.Kinds {
		t.statuses[k] = idle(k)
	}
	return t
}

func idle(kind models.Kind) models.JobStatus {
	return models.JobStatus{Kind: kind, State: models.StateNotStarted, Stage: models.StageIdle}
}

// Begin atomically moves kind to Running for a new run. It fails with ErrAlreadyRunning
// when a run of that kind is still active.
func (t *Tracker) Begin(kind models.Kind, runID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.lookup(kind)
	if cur.State == models.StateRunning {
		return fmt.Errorf("%s: %w", kind, ErrAlreadyRunning)
	}
	started := t.now().UTC()
	t.statuses[kind] = models.JobStatus{
		Kind:      kind,
		State:     models.StateRunning,
		Stage:     models.StageIdle,
		RunID:     runID,
		StartedAt: &started,
	}
	return nil
}

// Set applies a state change. Setting the current state again only replaces the detail.
// Running can only be entered through Begin.
func (t *Tracker) Set(kind models.Kind, state models.State, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.lookup(kind)
	if cur.State == state {
		cur.Detail = detail
		t.statuses[kind] = cur
		return nil
	}
	if !isValidTransition(cur.State, state) {
		log.Printf("tracker: rejected %s transition %s -> %s", kind, cur.State, state)
		return fmt.Errorf("%s: %s -> %s: %w", kind, cur.State, state, ErrInvalidTransition)
	}

	cur.State = state
	cur.Detail = detail
	if state.Terminal() {
		finished := t.now().UTC()
		cur.FinishedAt = &finished
		cur.Stage = models.StageDone
	}
	t.statuses[kind] = cur
	return nil
}

// SetStage records the processor's position inside the active run.
func (t *Tracker) SetStage(kind models.Kind, stage models.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.lookup(kind)
	if cur.State != models.StateRunning {
		return
	}
	cur.Stage = stage
	t.statuses[kind] = cur
}

// Get returns a snapshot of the status of kind.
func (t *Tracker) Get(kind models.Kind) models.JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(kind)
}

// IsRunning reports whether a run of kind is active.
func (t *Tracker) IsRunning(kind models.Kind) bool {
	return t.Get(kind).State == models.StateRunning
}

func (t *Tracker) lookup(kind models.Kind) models.JobStatus {
	if st, ok := t.statuses[kind]; ok {
		return st
	}
	return idle(kind)
}

func isValidTransition(from, to models.State) bool {
	switch from {
	case models.StateRunning:
		return to == models.StateCompleted || to == models.StateFailed
	default:
		return false
	}
}
