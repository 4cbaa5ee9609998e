package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"audio-analyser/internal/config"
	"audio-analyser/internal/jobs"
	"audio-analyser/internal/queue"
	"audio-analyser/internal/ratelimit"
	"audio-analyser/internal/sink"
	"audio-analyser/internal/store"
	"audio-analyser/internal/worker"
)

// App holds the long-lived dependencies shared by the API server and the batch CLI.
type App struct {
	Config    config.Config
	Tracker   *jobs.Tracker
	Processor *worker.Processor
	Store     *store.Store
	Redis     *redis.Client
	Failures  *queue.FailureLog
}

// New validates cfg and connects the optional backends: Postgres when POSTGRES_DSN is
// set, Redis when REDIS_ADDR is set, S3 when S3_BUCKET is set.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Tracker: jobs.NewTracker()}
	app.Processor = worker.NewProcessor(cfg, app.Tracker)

	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		app.Store = st
		app.Processor.UseHistory(st)
	}

	if cfg.RedisAddr != "" {
		app.Redis = queue.NewRedisClient(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := app.Redis.Ping(pingCtx).Err(); err != nil {
			log.Printf("redis %s unreachable, rate limiting fails open: %v", cfg.RedisAddr, err)
		}
		cancel()
		app.Processor.UseLimiter(ratelimit.NewTokenBucket(app.Redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour))
		app.Failures = queue.NewFailureLog(app.Redis, cfg.FailureLogSize)
		app.Processor.UseFailureLog(app.Failures)
	}

	mirror, err := sink.NewS3Uploader(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	for _, kind := range cfg.JobKinds {
		pl, err := worker.NewPipeline(cfg, kind, app.Store, mirror)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Processor.RegisterPipeline(pl)
		in, _ := cfg.InputFor(kind)
		log.Printf("pipeline %s: input=%s output=%s sinks=%v", kind, in, cfg.OutputFor(kind), cfg.ResultSinks)
	}
	return app, nil
}

func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
