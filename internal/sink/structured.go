package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"audio-analyser/internal/models"
)

// Mode selects how StructuredSink lays out its documents.
type Mode string

const (
	PerItem   Mode = "per_item"
	Aggregate Mode = "aggregate"
)

// StructuredSink writes outcomes as JSON. PerItem writes <basename>.json per successful
// item. Aggregate buffers the whole run and writes <kind>-<runID>.json at End.
type StructuredSink struct {
	out  Uploader
	mode Mode

	mu       sync.Mutex
	run      models.Run
	buffered []models.Outcome
}

func NewStructuredSink(out Uploader, mode Mode) *StructuredSink {
	if mode == "" {
		mode = PerItem
	}
	return &StructuredSink{out: out, mode: mode}
}

func (s *StructuredSink) Begin(_ context.Context, run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	s.buffered = nil
	return nil
}

func (s *StructuredSink) Write(ctx context.Context, o models.Outcome) error {
	if s.mode == Aggregate {
		s.mu.Lock()
		s.buffered = append(s.buffered, o)
		s.mu.Unlock()
		return nil
	}
	if o.Status != models.OutcomeSuccess || o.Payload == nil {
		return nil
	}
	body, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", o.Filename, err)
	}
	key := BaseName(o.Filename) + ".json"
	if _, err := s.out.Upload(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// End flushes the aggregate document. It is a no-op in PerItem mode.
func (s *StructuredSink) End(ctx context.Context) error {
	if s.mode != Aggregate {
		return nil
	}
	s.mu.Lock()
	run := s.run
	items := s.buffered
	s.buffered = nil
	s.mu.Unlock()

	if items == nil {
		items = []models.Outcome{}
	}
	body, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}
	key := fmt.Sprintf("%s-%s.json", run.Kind, run.ID)
	if _, err := s.out.Upload(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
