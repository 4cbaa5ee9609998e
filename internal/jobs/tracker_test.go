package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"audio-analyser/internal/models"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	if st := tr.Get(models.KindAnalysis); st.State != models.StateNotStarted || st.Stage != models.StageIdle {
		t.Fatalf("expected NotStarted/idle, got %+v", st)
	}

	if err := tr.Begin(models.KindAnalysis, "run-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	tr.SetStage(models.KindAnalysis, models.StageProcessing)
	st := tr.Get(models.KindAnalysis)
	if st.State != models.StateRunning || st.Stage != models.StageProcessing || st.RunID != "run-1" || st.StartedAt == nil {
		t.Fatalf("unexpected running status %+v", st)
	}

	if err := tr.Set(models.KindAnalysis, models.StateCompleted, "3 processed"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	st = tr.Get(models.KindAnalysis)
	if st.State != models.StateCompleted || st.Stage != models.StageDone || st.FinishedAt == nil || st.Detail != "3 processed" {
		t.Fatalf("unexpected completed status %+v", st)
	}

	if err := tr.Begin(models.KindAnalysis, "run-2"); err != nil {
		t.Fatalf("rerun after completion: %v", err)
	}
	if st := tr.Get(models.KindAnalysis); st.FinishedAt != nil || st.Detail != "" || st.RunID != "run-2" {
		t.Fatalf("expected fresh run status, got %+v", st)
	}
}

func TestTrackerRejectsSecondBegin(t *testing.T) {
	tr := NewTracker()
	if err := tr.Begin(models.KindTranscription, "a"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tr.Begin(models.KindTranscription, "b"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := tr.Begin(models.KindTranslation, "c"); err != nil {
		t.Fatalf("other kinds are independent: %v", err)
	}
}

func TestTrackerConcurrentBeginHasOneWinner(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Begin(models.KindRecommendation, "r") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestTrackerInvalidTransitions(t *testing.T) {
	tr := NewTracker()
	if err := tr.Set(models.KindAnalysis, models.StateCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("NotStarted -> Completed should be rejected, got %v", err)
	}
	if err := tr.Set(models.KindAnalysis, models.StateRunning, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Running must be entered through Begin, got %v", err)
	}

	_ = tr.Begin(models.KindAnalysis, "r")
	_ = tr.Set(models.KindAnalysis, models.StateFailed, "Error: boom")
	if err := tr.Set(models.KindAnalysis, models.StateCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Failed -> Completed should be rejected, got %v", err)
	}
	if st := tr.Get(models.KindAnalysis); st.State != models.StateFailed || st.Detail != "Error: boom" {
		t.Fatalf("rejected transition must not change status, got %+v", st)
	}
}

func TestTrackerSameStateUpdatesDetail(t *testing.T) {
	tr := NewTracker()
	_ = tr.Begin(models.KindTranslation, "r")
	if err := tr.Set(models.KindTranslation, models.StateRunning, "2/5 processed"); err != nil {
		t.Fatalf("same-state set: %v", err)
	}
	if st := tr.Get(models.KindTranslation); st.Detail != "2/5 processed" || st.State != models.StateRunning {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestTrackerSetStageIgnoredWhenIdle(t *testing.T) {
	tr := NewTracker()
	tr.SetStage(models.KindAnalysis, models.StageProcessing)
	if st := tr.Get(models.KindAnalysis); st.Stage != models.StageIdle {
		t.Fatalf("expected idle stage, got %s", st.Stage)
	}
}

func TestTrackerReadsDoNotBlockDuringRun(t *testing.T) {
	tr := NewTracker()
	_ = tr.Begin(models.KindAnalysis, "r")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = tr.Get(models.KindAnalysis)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reads blocked while a run is active")
	}
}
