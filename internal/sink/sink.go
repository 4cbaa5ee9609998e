package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"audio-analyser/internal/models"
)

// Sink persists outcomes of one batch run. Implementations are safe for concurrent Write.
type Sink interface {
	Begin(ctx context.Context, run models.Run) error
	Write(ctx context.Context, out models.Outcome) error
	End(ctx context.Context) error
}

// Multi fans every call out to all of its sinks.
type Multi []Sink

func (m Multi) Begin(ctx context.Context, run models.Run) error {
	for i, s := range m {
		if err := s.Begin(ctx, run); err != nil {
			for _, started := range m[:i] {
				_ = started.End(ctx)
			}
			return fmt.Errorf("begin sink %T: %w", s, err)
		}
	}
	return nil
}

// Write hands the outcome to every sink, even after one of them fails.
func (m Multi) Write(ctx context.Context, out models.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) End(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.End(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// baseName strips directory and extension: "dir/call 1.wav" -> "call 1".
// BaseName is the artifact name of an input: its file name without the extension.
func BaseName(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
