package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
	"audio-analyser/internal/worker"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		HTTPPort:             "8080",
		JobKinds:             models.Kinds,
		InputDir:             root + "/input",
		AudioExtensions:      []string{".wav"},
		TranscriptsDir:       root + "/transcripts",
		ReportsDir:           root + "/reports",
		TranslationsDir:      root + "/translations",
		RecommendationsDir:   root + "/recommendations",
		SpeechKey:            "speech-key",
		SpeechRegion:         "westeurope",
		SpeechLanguage:       "en-US",
		LanguageEndpoint:     "https://lang.example.com",
		LanguageKey:          "lang-key",
		TranslatorEndpoint:   "https://translator.example.com",
		TranslatorKey:        "translator-key",
		TranslationFrom:      "en",
		TranslationLanguages: []string{"fr", "zh-Hans"},
		OpenAIKey:            "openai-key",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		OpenAIModel:          "gpt-4o-mini",
		ResultSinks:          []string{"file", "structured"},
		StructuredMode:       "aggregate",
		RateLimitCapacity:    10,
		RateLimitRefill:      5,
		FailureLogSize:       50,
		Concurrency:          4,
		MaxAttempts:          3,
		BackoffInitial:       time.Second,
		BackoffMax:           8 * time.Second,
		CallTimeout:          time.Minute,
	}
}

func TestNewRegistersEveryEnabledKind(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = mr.Addr()

	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	for _, kind := range models.Kinds {
		if !app.Processor.Has(kind) {
			t.Fatalf("expected pipeline for %s", kind)
		}
	}
	if app.Failures == nil || app.Redis == nil {
		t.Fatalf("expected redis-backed failure log")
	}
	if app.Store != nil {
		t.Fatalf("store should stay nil without POSTGRES_DSN")
	}
}

func TestNewWithoutRedisRunsBatches(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobKinds = []models.Kind{models.KindAnalysis}

	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer app.Close()

	if app.Processor.Has(models.KindTranscription) {
		t.Fatalf("disabled kind should not be registered")
	}
	if _, err := app.Processor.Run(context.Background(), models.KindTranscription); !errors.Is(err, worker.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	sum, err := app.Processor.Run(context.Background(), models.KindAnalysis)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.State != models.StateFailed {
		t.Fatalf("missing transcripts folder should fail the run, got %s", sum.State)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIKey = ""

	_, err := New(context.Background(), cfg)
	var cerr *config.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
