package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"audio-analyser/internal/adapter"
	"audio-analyser/internal/config"
	"audio-analyser/internal/discovery"
	"audio-analyser/internal/jobs"
	"audio-analyser/internal/models"
	"audio-analyser/internal/sink"
	"audio-analyser/internal/telemetry"
)

// ErrUnknownKind is returned when a run is requested for a kind with no pipeline.
var ErrUnknownKind = errors.New("unknown job kind")

// Pipeline binds a job kind to its inputs, its remote capability and its sinks.
type Pipeline struct {
	Kind    models.Kind
	Dir     string
	Exts    []string
	Adapter adapter.Adapter
	// Sinks builds the sinks for one run. Sinks are stateful within a run.
	Sinks func() (sink.Sink, error)
}

// Limiter throttles remote calls across server instances.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// FailureRecorder keeps failed items for inspection.
type FailureRecorder interface {
	Push(ctx context.Context, kind models.Kind, entry models.FailureEntry) error
}

// RunRecorder persists the summary of finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, sum models.Summary) error
}

// Processor runs batch jobs: discover inputs, call the remote service for each one with
// bounded concurrency and retries, write every outcome to the sinks and keep the tracker
// current.
type Processor struct {
	tracker   *jobs.Tracker
	pipelines map[models.Kind]Pipeline

	concurrency    int
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration

	limiter  Limiter
	failures FailureRecorder
	history  RunRecorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewProcessor(cfg config.Config, tracker *jobs.Tracker) *Processor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := cfg.BackoffInitial
	if base <= 0 {
		base = time.Second
	}
	max := cfg.BackoffMax
	if max < base {
		max = 8 * base
	}
	return &Processor{
		tracker:        tracker,
		pipelines:      make(map[models.Kind]Pipeline),
		concurrency:    concurrency,
		maxAttempts:    attempts,
		backoffInitial: base,
		backoffMax:     max,
		sleep:          sleepContext,
		now:            time.Now,
	}
}

// RegisterPipeline binds a pipeline to its kind.
func (p *Processor) RegisterPipeline(pl Pipeline) {
	if pl.Kind == "" || pl.Adapter == nil || pl.Sinks == nil {
		return
	}
	p.pipelines[pl.Kind] = pl
}

func (p *Processor) UseLimiter(l Limiter)            { p.limiter = l }
func (p *Processor) UseFailureLog(f FailureRecorder) { p.failures = f }
func (p *Processor) UseHistory(h RunRecorder)        { p.history = h }
func (p *Processor) Tracker() *jobs.Tracker          { return p.tracker }

// Has reports whether a pipeline is registered for kind.
func (p *Processor) Has(kind models.Kind) bool {
	_, ok := p.pipelines[kind]
	return ok
}

// Run executes one batch synchronously. A run already active for kind yields
// jobs.ErrAlreadyRunning. Failures of the run itself are reported in the Summary.
func (p *Processor) Run(ctx context.Context, kind models.Kind) (models.Summary, error) {
	pl, runID, err := p.claim(kind)
	if err != nil {
		return models.Summary{}, err
	}
	return p.execute(ctx, pl, runID), nil
}

// Start claims the run slot synchronously and processes the batch in the background.
// ctx must outlive the request that triggered it.
func (p *Processor) Start(ctx context.Context, kind models.Kind) (string, error) {
	pl, runID, err := p.claim(kind)
	if err != nil {
		return "", err
	}
	go p.execute(ctx, pl, runID)
	return runID, nil
}

func (p *Processor) claim(kind models.Kind) (Pipeline, string, error) {
	pl, ok := p.pipelines[kind]
	if !ok {
		return Pipeline{}, "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	runID := uuid.New().String()
	if err := p.tracker.Begin(kind, runID); err != nil {
		telemetry.RunsRejected.WithLabelValues(string(kind)).Inc()
		return Pipeline{}, "", err
	}
	return pl, runID, nil
}

type runState struct {
	mu      sync.Mutex
	kind    models.Kind
	runID   string
	lines   []string
	done    int
	aborted atomic.Bool
	cause   error
}

func (r *runState) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Printf("%s run %s: %s", r.kind, r.runID[:8], line)
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *runState) abort(err error) {
	if r.aborted.CompareAndSwap(false, true) {
		r.mu.Lock()
		r.cause = err
		r.mu.Unlock()
	}
}

func (p *Processor) execute(ctx context.Context, pl Pipeline, runID string) (result models.Summary) {
	kind := pl.Kind
	started := p.now().UTC()
	sum := models.Summary{RunID: runID, Kind: kind, StartedAt: started}
	rs := &runState{kind: kind, runID: runID}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s run %s panicked: %v\n%s", kind, runID, r, debug.Stack())
			result = p.finish(ctx, &sum, rs, models.StateFailed, "Error: internal error")
		}
	}()
	telemetry.RunsStarted.WithLabelValues(string(kind)).Inc()

	p.tracker.SetStage(kind, models.StageDiscovering)
	files, err := discovery.List(pl.Dir, pl.Exts)
	if err != nil {
		rs.logf("discovery failed: %v", err)
		return p.finish(ctx, &sum, rs, models.StateFailed, "Error: "+err.Error())
	}
	sum.TotalItems = len(files)
	if len(files) == 0 {
		rs.logf("no input files in %s", pl.Dir)
		return p.finish(ctx, &sum, rs, models.StateCompleted, "no input files found")
	}
	rs.logf("discovered %d files in %s", len(files), pl.Dir)

	sinks, err := pl.Sinks()
	if err == nil {
		err = sinks.Begin(ctx, models.Run{ID: runID, Kind: kind, StartedAt: started})
	}
	if err != nil {
		rs.logf("open sinks: %v", err)
		sum.Skipped = len(files)
		return p.finish(ctx, &sum, rs, models.StateFailed, "Error: "+err.Error())
	}

	p.tracker.SetStage(kind, models.StageProcessing)
	collisions := outputCollisions(files)
	outcomes := make([]*models.Outcome, len(files))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, f := range files {
		i, f := i, f
		if rs.aborted.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if rs.aborted.Load() || ctx.Err() != nil {
				return nil
			}
			var out models.Outcome
			if first, ok := collisions[i]; ok {
				rs.logf("failed %s: output name collides with %s", f.Name, first)
				out = models.Failed(f.Name, "output name "+sink.BaseName(f.Name)+" already used by "+first, 0)
			} else if err := guard(func() error { out = p.processItem(ctx, pl, rs, f); return nil }); err != nil {
				rs.logf("failed %s: %v", f.Name, err)
				out = models.Failed(f.Name, err.Error(), 0)
			}
			if err := guard(func() error { return sinks.Write(ctx, out) }); err != nil {
				telemetry.SinkWriteErrors.WithLabelValues(string(kind)).Inc()
				rs.logf("write result for %s: %v", f.Name, err)
				out = models.Failed(f.Name, "write result: "+err.Error(), out.Attempts)
			}
			outcomes[i] = &out

			rs.mu.Lock()
			rs.done++
			progress := fmt.Sprintf("%d/%d processed", rs.done, len(files))
			rs.mu.Unlock()
			_ = p.tracker.Set(kind, models.StateRunning, progress)
			return nil
		})
	}
	_ = g.Wait()

	p.tracker.SetStage(kind, models.StageFinalizing)
	if err := sinks.End(ctx); err != nil {
		telemetry.SinkWriteErrors.WithLabelValues(string(kind)).Inc()
		rs.logf("finalize sinks: %v", err)
		for i, out := range outcomes {
			if out != nil && out.Status == models.OutcomeSuccess {
				flipped := models.Failed(out.Filename, "write result: "+err.Error(), out.Attempts)
				outcomes[i] = &flipped
			}
		}
	}

	for _, out := range outcomes {
		switch {
		case out == nil:
			sum.Skipped++
		case out.Status == models.OutcomeSuccess:
			sum.Succeeded++
			telemetry.ItemsProcessed.WithLabelValues(string(kind), "success").Inc()
		default:
			sum.Failed++
			telemetry.ItemsProcessed.WithLabelValues(string(kind), "failure").Inc()
			p.recordFailure(ctx, kind, runID, *out)
		}
	}

	if rs.aborted.Load() {
		rs.mu.Lock()
		cause := rs.cause
		rs.mu.Unlock()
		detail := fmt.Sprintf("Error: batch aborted: %v (%d skipped)", cause, sum.Skipped)
		return p.finish(ctx, &sum, rs, models.StateFailed, detail)
	}
	if err := ctx.Err(); err != nil {
		detail := fmt.Sprintf("Error: batch interrupted: %v (%d skipped)", err, sum.Skipped)
		return p.finish(ctx, &sum, rs, models.StateFailed, detail)
	}
	detail := fmt.Sprintf("%d processed, %d succeeded, %d failed", sum.TotalItems, sum.Succeeded, sum.Failed)
	return p.finish(ctx, &sum, rs, models.StateCompleted, detail)
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn()
}

// outputCollisions maps the index of every input whose artifact name is already taken by
// an earlier input to that input's name.
func outputCollisions(files []models.InputFile) map[int]string {
	owners := make(map[string]string, len(files))
	out := make(map[int]string)
	for i, f := range files {
		base := sink.BaseName(f.Name)
		if first, ok := owners[base]; ok {
			out[i] = first
			continue
		}
		owners[base] = f.Name
	}
	return out
}

// processItem calls the remote service with retries. Only transient errors are retried.
// An auth error raises the abort flag for the whole run.
func (p *Processor) processItem(ctx context.Context, pl Pipeline, rs *runState, f models.InputFile) models.Outcome {
	kind := string(pl.Kind)
	telemetry.InFlightGauge.WithLabelValues(kind).Inc()
	defer telemetry.InFlightGauge.WithLabelValues(kind).Dec()

	rs.logf("processing %s", f.Name)
	for attempt := 1; ; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx, "ratelimit:"+kind); err != nil {
				if ctx.Err() != nil {
					return models.Failed(f.Name, "interrupted: "+ctx.Err().Error(), attempt-1)
				}
				telemetry.RateLimitErrors.WithLabelValues(kind).Inc()
				log.Printf("rate limiter unavailable, continuing: %v", err)
			}
		}

		start := time.Now()
		rec, err := pl.Adapter.Call(ctx, f)
		telemetry.CallDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.AttemptsTotal.WithLabelValues(kind, "success").Inc()
			rs.logf("processed %s", f.Name)
			return models.Succeeded(f.Name, rec, attempt)
		}

		errKind := adapter.KindOf(err)
		telemetry.AttemptsTotal.WithLabelValues(kind, string(errKind)).Inc()
		if errKind == adapter.Auth {
			rs.abort(err)
			rs.logf("failed %s: %v", f.Name, err)
			return models.Failed(f.Name, err.Error(), attempt)
		}
		if adapter.IsRetryable(err) && attempt < p.maxAttempts {
			wait := backoffDelay(p.backoffInitial, p.backoffMax, attempt)
			rs.logf("retrying %s in %s (attempt %d/%d): %v", f.Name, wait, attempt, p.maxAttempts, err)
			if serr := p.sleep(ctx, wait); serr != nil {
				return models.Failed(f.Name, "interrupted: "+serr.Error(), attempt)
			}
			continue
		}
		rs.logf("failed %s after %d attempt(s): %v", f.Name, attempt, err)
		return models.Failed(f.Name, err.Error(), attempt)
	}
}

func (p *Processor) recordFailure(ctx context.Context, kind models.Kind, runID string, out models.Outcome) {
	if p.failures == nil {
		return
	}
	detail := ""
	if out.ErrorDetail != nil {
		detail = *out.ErrorDetail
	}
	entry := models.FailureEntry{RunID: runID, Filename: out.Filename, Detail: detail, Recorded: out.Timestamp}
	if err := p.failures.Push(context.WithoutCancel(ctx), kind, entry); err != nil {
		log.Printf("failure log push %s: %v", out.Filename, err)
	}
}

func (p *Processor) finish(ctx context.Context, sum *models.Summary, rs *runState, state models.State, detail string) models.Summary {
	kind := sum.Kind
	sum.State = state
	sum.Detail = detail
	sum.FinishedAt = p.now().UTC()

	rs.logf("finished %s: %s", state, detail)
	rs.mu.Lock()
	sum.LogLines = append([]string(nil), rs.lines...)
	rs.mu.Unlock()

	if p.history != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := p.history.RecordRun(hctx, *sum); err != nil {
			log.Printf("record run %s: %v", sum.RunID, err)
		}
		cancel()
	}

	if err := p.tracker.Set(kind, state, detail); err != nil {
		log.Printf("tracker %s: %v", kind, err)
	}
	telemetry.RunsFinished.WithLabelValues(string(kind), string(state)).Inc()
	telemetry.RunDuration.WithLabelValues(string(kind)).Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	return *sum
}

// backoffDelay doubles base for every failed attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		return max
	}
	return time.Duration(exp)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
