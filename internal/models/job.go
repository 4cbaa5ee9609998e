package models

import (
	"time"
)

// Kind names one of the processing pipelines.
type Kind string

const (
	KindTranscription  Kind = "transcription"
	KindAnalysis       Kind = "analysis"
	KindTranslation    Kind = "translation"
	KindRecommendation Kind = "recommendation"
)

// Kinds lists every pipeline in a stable order.
var Kinds = []Kind{KindTranscription, KindAnalysis, KindTranslation, KindRecommendation}

// ParseKind validates a kind name.
func ParseKind(v string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == v {
			return k, true
		}
	}
	return "", false
}

// State enumerates the lifecycle of a batch run as seen by polling clients.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateRunning    State = "Running"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
)

// Terminal reports whether no further transition is expected in the current run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage is the processor's position inside one run.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDiscovering Stage = "discovering"
	StageProcessing  Stage = "processing"
	StageFinalizing  Stage = "finalizing"
	StageDone        Stage = "done"
)

// JobStatus is the tracked state of one job kind.
type JobStatus struct {
	Kind       Kind       `json:"kind"`
	State      State      `json:"state"`
	Stage      Stage      `json:"stage"`
	Detail     string     `json:"detail,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// InputFile identifies one unit of work discovered on disk.
type InputFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// OutcomeStatus is the result class of one processed input.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "Success"
	OutcomeFailure OutcomeStatus = "Failure"
)

// Outcome is the result of processing one InputFile. Payload is set only on success,
// ErrorDetail only on failure.
type Outcome struct {
	Filename    string        `json:"filename"`
	Status      OutcomeStatus `json:"status"`
	Payload     Record        `json:"payload"`
	ErrorDetail *string       `json:"error_detail"`
	Attempts    int           `json:"attempts"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Succeeded builds a success outcome.
func Succeeded(filename string, payload Record, attempts int) Outcome {
	return Outcome{
		Filename:  filename,
		Status:    OutcomeSuccess,
		Payload:   payload,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
}

// Failed builds a failure outcome.
func Failed(filename, detail string, attempts int) Outcome {
	return Outcome{
		Filename:    filename,
		Status:      OutcomeFailure,
		ErrorDetail: &detail,
		Attempts:    attempts,
		Timestamp:   time.Now().UTC(),
	}
}

// Run describes a batch run to the sinks.
type Run struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

// Summary is the aggregate returned to the caller of a run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	State      State     `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	TotalItems int       `json:"total_items"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	LogLines   []string  `json:"log_lines"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Artifact is a result already persisted on disk.
type Artifact struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Format   string `json:"format"`
}

// ResultRecord is one append-only row of a result table.
type ResultRecord struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	PayloadJSON []byte    `json:"payload_json"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunRecord is one row of the run history table.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	State      State     `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	TotalItems int       `json:"total_items"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FailureEntry is one item kept in the failure log.
type FailureEntry struct {
	RunID    string    `json:"run_id"`
	Filename string    `json:"filename"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
