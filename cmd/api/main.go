package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "audio-analyser/internal/api"
	"audio-analyser/internal/bootstrap"
	"audio-analyser/internal/config"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer app.Close()

	server := api.New(ctx, cfg, app.Processor)
	if app.Failures != nil {
		server.WithFailureLog(app.Failures)
	}
	if app.Store != nil {
		server.WithResults(app.Store)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("api listening on :%s (env=%s kinds=%v)", cfg.HTTPPort, cfg.Env, cfg.JobKinds)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
