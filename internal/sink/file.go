package sink

import (
	"context"
	"fmt"

	"audio-analyser/internal/models"
)

// FileSink writes each successful payload as plain text to <basename>.txt, overwriting
// earlier runs. Failure outcomes have no payload and produce no file.
type FileSink struct {
	out Uploader
}

func NewFileSink(out Uploader) *FileSink {
	return &FileSink{out: out}
}

func (f *FileSink) Begin(context.Context, models.Run) error { return nil }

func (f *FileSink) Write(ctx context.Context, o models.Outcome) error {
	if o.Status != models.OutcomeSuccess || o.Payload == nil {
		return nil
	}
	key := BaseName(o.Filename) + ".txt"
	if _, err := f.out.Upload(ctx, key, []byte(o.Payload.Text()), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *FileSink) End(context.Context) error { return nil }
