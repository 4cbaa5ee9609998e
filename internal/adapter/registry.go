package adapter

import (
	"fmt"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

// New returns the remote client serving kind.
func New(cfg config.Config, kind models.Kind) (Adapter, error) {
	switch kind {
	case models.KindTranscription:
		return NewTranscriber(cfg), nil
	case models.KindAnalysis:
		return NewAnalyzer(cfg), nil
	case models.KindTranslation:
		return NewTranslator(cfg), nil
	case models.KindRecommendation:
		return NewRecommender(cfg), nil
	default:
		return nil, fmt.Errorf("no adapter for job kind %q", kind)
	}
}
