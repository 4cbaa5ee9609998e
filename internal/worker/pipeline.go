package worker

import (
	"audio-analyser/internal/adapter"
	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
	"audio-analyser/internal/sink"
	"audio-analyser/internal/store"
)

// NewPipeline wires the configured input directory, remote client and sinks for kind.
func NewPipeline(cfg config.Config, kind models.Kind, st *store.Store, mirror *sink.S3Uploader) (Pipeline, error) {
	a, err := adapter.New(cfg, kind)
	if err != nil {
		return Pipeline{}, err
	}
	dir, exts := cfg.InputFor(kind)
	return Pipeline{
		Kind:    kind,
		Dir:     dir,
		Exts:    exts,
		Adapter: a,
		Sinks: func() (sink.Sink, error) {
			return sink.ForKind(cfg, kind, st, mirror)
		},
	}, nil
}
