package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"audio-analyser/internal/catalog"
	"audio-analyser/internal/config"
	"audio-analyser/internal/discovery"
	"audio-analyser/internal/jobs"
	"audio-analyser/internal/models"
	"audio-analyser/internal/telemetry"
	"audio-analyser/internal/worker"
)

// FailureReader lists recently failed items.
type FailureReader interface {
	Peek(ctx context.Context, kind models.Kind, count int64) ([]models.FailureEntry, error)
}

// ResultReader reads run history and result tables.
type ResultReader interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, kind models.Kind, limit int) ([]models.RunRecord, error)
	ListResults(ctx context.Context, table string, limit int) ([]models.ResultRecord, error)
}

// Server wires HTTP handlers for triggering runs, polling status and reading results.
type Server struct {
	cfg      config.Config
	ctx      context.Context
	proc     *worker.Processor
	tracker  *jobs.Tracker
	failures FailureReader
	results  ResultReader
}

// New constructs the API server. Runs are executed under ctx rather than the request
// context, so a disconnecting client does not cancel a batch.
func New(ctx context.Context, cfg config.Config, proc *worker.Processor) *Server {
	return &Server{
		cfg:     cfg,
		ctx:     ctx,
		proc:    proc,
		tracker: proc.Tracker(),
	}
}

func (s *Server) WithFailureLog(f FailureReader) *Server {
	s.failures = f
	return s
}

func (s *Server) WithResults(r ResultReader) *Server {
	s.results = r
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/process_all_speech_to_text", s.handleRunSync(models.KindTranscription))
	r.Get("/process_text_analysis", s.handleStart(models.KindAnalysis, "Text analysis process started"))
	r.Get("/process_translations", s.handleStart(models.KindTranslation, "Translation process started"))
	r.Get("/generate_recommendations", s.handleStart(models.KindRecommendation, "Recommendation process started"))

	r.Get("/get_transcripts_list", s.handleList(s.cfg.TranscriptsDir))
	r.Get("/get_reports_list", s.handleList(s.cfg.ReportsDir))
	r.Get("/get_translations_list", s.handleList(s.cfg.TranslationsDir))
	r.Get("/get_summaries_list", s.handleList(s.cfg.RecommendationsDir))

	r.Get("/get_transcription_status", s.handleStatus(models.KindTranscription))
	r.Get("/get_analysis_status", s.handleStatus(models.KindAnalysis))
	r.Get("/get_translation_status", s.handleStatus(models.KindTranslation))
	r.Get("/get_recommendations_status", s.handleStatus(models.KindRecommendation))

	r.Get("/list_audio_files", s.handleAudioFiles)
	r.Get("/status/{kind}", s.handleJobStatus)
	r.Get("/failures/{kind}", s.handleFailures)
	r.Get("/runs/{kind}", s.handleRuns)
	r.Get("/results/{kind}", s.handleResults)

	if s.cfg.DashboardDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.DashboardDir)))
	}
	return r
}

type healthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database,omitempty"`
	Jobs     map[string]string `json:"jobs"`
}

// handleHealth reports liveness, the database connection when one is configured, and
// whether each job kind is disabled, idle or running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Jobs: make(map[string]string, len(models.Kinds))}
	for _, kind := range models.Kinds {
		switch {
		case !s.cfg.Enabled(kind):
			resp.Jobs[string(kind)] = "disabled"
		case s.tracker.IsRunning(kind):
			resp.Jobs[string(kind)] = "running"
		default:
			resp.Jobs[string(kind)] = "idle"
		}
	}

	code := http.StatusOK
	if s.results != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Database = "ok"
		if err := s.results.Ping(ctx); err != nil {
			log.Printf("healthz: database ping: %v", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

type runResponse struct {
	Result string `json:"result"`
	Logs   string `json:"logs,omitempty"`
}

// handleRunSync blocks until the batch is done and returns its log.
func (s *Server) handleRunSync(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.proc.Run(s.ctx, kind)
		if err != nil {
			s.writeTriggerError(w, kind, err)
			return
		}
		logs := strings.Join(sum.LogLines, "\n")
		if sum.State == models.StateFailed {
			writeJSON(w, http.StatusInternalServerError, runResponse{Result: sum.Detail, Logs: logs})
			return
		}
		writeJSON(w, http.StatusOK, runResponse{Result: "Processing completed", Logs: logs})
	}
}

func (s *Server) handleStart(kind models.Kind, started string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.proc.Start(s.ctx, kind); err != nil {
			s.writeTriggerError(w, kind, err)
			return
		}
		writeJSON(w, http.StatusOK, runResponse{Result: started})
	}
}

func (s *Server) writeTriggerError(w http.ResponseWriter, kind models.Kind, err error) {
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, runResponse{Result: "Error: " + string(kind) + " job is already running"})
	case errors.Is(err, worker.ErrUnknownKind):
		writeJSON(w, http.StatusNotFound, runResponse{Result: "Error: " + string(kind) + " jobs are not enabled"})
	default:
		log.Printf("trigger %s: %v", kind, err)
		writeJSON(w, http.StatusInternalServerError, runResponse{Result: "Error: internal error"})
	}
}

type artifactResponse struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) handleList(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listing, err := catalog.List(dir, ".txt")
		if err != nil {
			log.Printf("list %s: %v", dir, err)
			http.Error(w, "failed to read results", http.StatusInternalServerError)
			return
		}
		if listing.Warning != "" {
			log.Printf("list %s: %s", dir, listing.Warning)
		}
		out := make([]artifactResponse, 0, len(listing.Artifacts))
		for _, a := range listing.Artifacts {
			out = append(out, artifactResponse{Filename: a.Filename, Content: a.Content})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// statusText renders the polling string: NotStarted, Running, Completed or Error: <detail>.
func statusText(st models.JobStatus) string {
	if st.State != models.StateFailed {
		return string(st.State)
	}
	if strings.HasPrefix(st.Detail, "Error:") {
		return st.Detail
	}
	return "Error: " + st.Detail
}

func (s *Server) handleStatus(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": statusText(s.tracker.Get(kind))})
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Get(kind))
}

type audioFile struct {
	Name     string `json:"name"`
	FullPath string `json:"full_path"`
}

func (s *Server) handleAudioFiles(w http.ResponseWriter, r *http.Request) {
	files, err := discovery.List(s.cfg.InputDir, s.cfg.AudioExtensions)
	if errors.Is(err, discovery.ErrDirectoryNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "input folder not found"})
		return
	}
	if err != nil {
		log.Printf("list audio files: %v", err)
		http.Error(w, "failed to list audio files", http.StatusInternalServerError)
		return
	}
	out := make([]audioFile, 0, len(files))
	for _, f := range files {
		out = append(out, audioFile{Name: f.Name, FullPath: f.Path})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if s.failures == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failure log not configured"})
		return
	}
	items, err := s.failures.Peek(r.Context(), kind, int64(limitParam(r, 100)))
	if err != nil {
		log.Printf("read failure log %s: %v", kind, err)
		http.Error(w, "failed to read failure log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if s.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not configured"})
		return
	}
	runs, err := s.results.ListRuns(r.Context(), kind, limitParam(r, 20))
	if err != nil {
		log.Printf("list runs %s: %v", kind, err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type resultRow struct {
	ID          int64           `json:"id"`
	Filename    string          `json:"filename"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ErrorDetail *string         `json:"error_detail,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if s.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database not configured"})
		return
	}
	rows, err := s.results.ListResults(r.Context(), s.cfg.TableNames[kind], limitParam(r, 100))
	if err != nil {
		log.Printf("list results %s: %v", kind, err)
		http.Error(w, "failed to list results", http.StatusInternalServerError)
		return
	}
	out := make([]resultRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, resultRow{
			ID:          row.ID,
			Filename:    row.Filename,
			Status:      row.Status,
			Payload:     json.RawMessage(row.PayloadJSON),
			ErrorDetail: row.ErrorDetail,
			CreatedAt:   row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": s.cfg.TableNames[kind], "rows": out})
}

func kindParam(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, ok := models.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job kind"})
		return "", false
	}
	return kind, true
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
