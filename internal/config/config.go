package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"audio-analyser/internal/models"
)

// Config holds runtime configuration for the API server and the batch CLI.
type Config struct {
	Env      string
	HTTPPort string `validate:"required,numeric"`
	JobKinds []models.Kind

	InputDir           string   `validate:"required"`
	AudioExtensions    []string `validate:"required,min=1,dive,startswith=."`
	TranscriptsDir     string   `validate:"required"`
	ReportsDir         string   `validate:"required"`
	TranslationsDir    string   `validate:"required"`
	RecommendationsDir string   `validate:"required"`
	DashboardDir       string

	SpeechKey      string
	SpeechRegion   string
	SpeechLanguage string
	SpeechEndpoint string

	LanguageEndpoint string `validate:"omitempty,url"`
	LanguageKey      string

	TranslatorEndpoint   string `validate:"omitempty,url"`
	TranslatorKey        string
	TranslatorRegion     string
	TranslationFrom      string
	TranslationLanguages []string `validate:"dive,required"`

	OpenAIKey     string
	OpenAIBaseURL string `validate:"omitempty,url"`
	OpenAIModel   string

	ResultSinks    []string `validate:"required,min=1,dive,oneof=file structured tabular"`
	StructuredMode string   `validate:"oneof=per_item aggregate"`

	PostgresDSN string
	TableNames  map[models.Kind]string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int     `validate:"gte=1"`
	RateLimitRefill   float64 `validate:"gt=0"`
	FailureLogSize    int     `validate:"gte=1"`

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string

	Concurrency    int           `validate:"gte=1,lte=32"`
	MaxAttempts    int           `validate:"gte=1"`
	BackoffInitial time.Duration `validate:"gt=0"`
	BackoffMax     time.Duration `validate:"gtefield=BackoffInitial"`
	CallTimeout    time.Duration `validate:"gt=0"`
}

// ConfigurationError reports settings that are missing or malformed.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration from the environment, after loading a .env file if present.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	kinds := make([]models.Kind, 0, len(models.Kinds))
	for _, name := range getEnvList("JOB_KINDS", kindNames(models.Kinds)) {
		kinds = append(kinds, models.Kind(name))
	}

	return Config{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		JobKinds: kinds,

		InputDir:           getEnv("INPUT_FOLDER", "./resources/input"),
		AudioExtensions:    normalizeExtensions(getEnvList("AUDIO_EXTENSION", []string{".wav"})),
		TranscriptsDir:     getEnv("TRANSCRIPTS_FOLDER", "./resources/transcripts"),
		ReportsDir:         getEnv("REPORTS_FOLDER", "./resources/reports"),
		TranslationsDir:    getEnv("TRANSLATIONS_FOLDER", "./resources/translations"),
		RecommendationsDir: getEnv("RECOMMENDATIONS_FOLDER", "./resources/recommendations"),
		DashboardDir:       getEnv("DASHBOARD_DIR", ""),

		SpeechKey:      getEnv("AZURE_AUDIO_TEXT_KEY", ""),
		SpeechRegion:   getEnv("REGION", ""),
		SpeechLanguage: getEnv("SPEECH_LANGUAGE", "en-US"),
		SpeechEndpoint: getEnv("SPEECH_ENDPOINT", ""),

		LanguageEndpoint: getEnv("AZURE_LANGUAGE_ENDPOINT", ""),
		LanguageKey:      getEnv("AZURE_LANGUAGE_KEY", ""),

		TranslatorEndpoint:   getEnv("AZURE_TRANSLATOR_ENDPOINT", "https://api.cognitive.microsofttranslator.com"),
		TranslatorKey:        getEnv("AZURE_TRANSLATOR_KEY", ""),
		TranslatorRegion:     getEnv("AZURE_TRANSLATOR_REGION", getEnv("REGION", "")),
		TranslationFrom:      getEnv("TRANSLATION_SOURCE_LANGUAGE", "en"),
		TranslationLanguages: getEnvList("TRANSLATIONS_LANGUAGES", []string{"fr", "es", "de"}),

		OpenAIKey:     getEnv("OPENAI_API_KEY", getEnv("GPT3_API_KEY", "")),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		ResultSinks:    getEnvList("RESULT_SINKS", []string{"file", "structured"}),
		StructuredMode: getEnv("STRUCTURED_MODE", "per_item"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		TableNames: map[models.Kind]string{
			models.KindTranscription:  getEnv("TRANSCRIPTS_DB_TABLE_NAME", "transcriptions"),
			models.KindAnalysis:       getEnv("ANALYSIS_DB_TABLE_NAME", "text_analysis"),
			models.KindTranslation:    getEnv("TRANSLATIONS_DB_TABLE_NAME", "translations"),
			models.KindRecommendation: getEnv("RECOMMENDATIONS_DB_TABLE_NAME", "recommendations"),
		},

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 5),
		FailureLogSize:    getEnvInt("FAILURE_LOG_SIZE", 200),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		S3Prefix:    getEnv("S3_PREFIX", ""),

		Concurrency:    getEnvInt("BATCH_CONCURRENCY", 4),
		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 3),
		BackoffInitial: getEnvDuration("BACKOFF_INITIAL", time.Second),
		BackoffMax:     getEnvDuration("BACKOFF_MAX", 8*time.Second),
		CallTimeout:    getEnvDuration("CALL_TIMEOUT", 2*time.Minute),
	}
}

// Validate checks the loaded settings before any batch run can start. Credentials are only
// required for the job kinds that are enabled.
func (c Config) Validate() error {
	var problems []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}

	if len(c.JobKinds) == 0 {
		problems = append(problems, "JOB_KINDS is empty")
	}
	for _, kind := range c.JobKinds {
		if _, ok := models.ParseKind(string(kind)); !ok {
			problems = append(problems, fmt.Sprintf("JOB_KINDS contains unknown kind %q", kind))
			continue
		}
		for _, name := range c.missingFor(kind) {
			problems = append(problems, fmt.Sprintf("%s is required for %s jobs", name, kind))
		}
	}

	if c.HasSink("tabular") && c.PostgresDSN == "" {
		problems = append(problems, "POSTGRES_DSN is required when RESULT_SINKS includes tabular")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func (c Config) missingFor(kind models.Kind) []string {
	required := map[models.Kind][][2]string{
		models.KindTranscription: {
			{"AZURE_AUDIO_TEXT_KEY", c.SpeechKey},
			{"REGION", firstNonEmpty(c.SpeechRegion, c.SpeechEndpoint)},
		},
		models.KindAnalysis: {
			{"AZURE_LANGUAGE_ENDPOINT", c.LanguageEndpoint},
			{"AZURE_LANGUAGE_KEY", c.LanguageKey},
		},
		models.KindTranslation: {
			{"AZURE_TRANSLATOR_ENDPOINT", c.TranslatorEndpoint},
			{"AZURE_TRANSLATOR_KEY", c.TranslatorKey},
			{"TRANSLATIONS_LANGUAGES", strings.Join(c.TranslationLanguages, ",")},
		},
		models.KindRecommendation: {
			{"OPENAI_API_KEY", c.OpenAIKey},
		},
	}
	var missing []string
	for _, pair := range required[kind] {
		if strings.TrimSpace(pair[1]) == "" {
			missing = append(missing, pair[0])
		}
	}
	return missing
}

// Enabled reports whether the job kind is switched on.
func (c Config) Enabled(kind models.Kind) bool {
	for _, k := range c.JobKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// HasSink reports whether the named sink is configured.
func (c Config) HasSink(name string) bool {
	for _, s := range c.ResultSinks {
		if s == name {
			return true
		}
	}
	return false
}

// InputFor returns the directory and extensions a job kind reads from.
func (c Config) InputFor(kind models.Kind) (string, []string) {
	if kind == models.KindTranscription {
		return c.InputDir, c.AudioExtensions
	}
	return c.TranscriptsDir, []string{".txt"}
}

// OutputFor returns the directory a job kind writes its artifacts to.
func (c Config) OutputFor(kind models.Kind) string {
	switch kind {
	case models.KindTranscription:
		return c.TranscriptsDir
	case models.KindAnalysis:
		return c.ReportsDir
	case models.KindTranslation:
		return c.TranslationsDir
	default:
		return c.RecommendationsDir
	}
}

func kindNames(kinds []models.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
