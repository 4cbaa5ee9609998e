package sink

import (
	"fmt"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
	"audio-analyser/internal/store"
)

// ForKind assembles the sinks selected by RESULT_SINKS for one job kind. st may be nil
// unless the tabular sink is enabled; mirror may be nil.
func ForKind(cfg config.Config, kind models.Kind, st *store.Store, mirror *S3Uploader) (Sink, error) {
	var out Uploader = NewLocalUploader(cfg.OutputFor(kind))
	if mirror != nil {
		out = Mirror(out, mirror.Sub(string(kind)))
	}

	var sinks Multi
	for _, name := range cfg.ResultSinks {
		switch name {
		case "file":
			sinks = append(sinks, NewFileSink(out))
		case "structured":
			sinks = append(sinks, NewStructuredSink(out, Mode(cfg.StructuredMode)))
		case "tabular":
			if st == nil {
				return nil, fmt.Errorf("tabular sink for %s requires a database", kind)
			}
			sinks = append(sinks, NewTabularSink(st, cfg.TableNames[kind]))
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, nil
}
