package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"audio-analyser/internal/bootstrap"
	"audio-analyser/internal/config"
	"audio-analyser/internal/models"
)

func main() {
	var (
		kindName = flag.String("kind", "", "job kind to run: transcription, analysis, translation or recommendation")
		stt      = flag.Bool("stt", false, "shorthand for -kind transcription")
		ta       = flag.Bool("ta", false, "shorthand for -kind analysis")
		asJSON   = flag.Bool("json", false, "print the run summary as JSON")
	)
	flag.Parse()

	kinds, err := selectKinds(*kindName, *stt, *ta)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	cfg.JobKinds = kinds

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

	failed := false
	for _, kind := range kinds {
		sum, err := app.Processor.Run(ctx, kind)
		if err != nil {
			log.Printf("%s: %v", kind, err)
			failed = true
			continue
		}
		if *asJSON {
			_ = json.NewEncoder(os.Stdout).Encode(sum)
		} else {
			fmt.Printf("%s %s: %d items, %d succeeded, %d failed, %d skipped\n",
				kind, sum.State, sum.TotalItems, sum.Succeeded, sum.Failed, sum.Skipped)
		}
		if sum.State == models.StateFailed {
			failed = true
		}
	}
	if failed {
		app.Close()
		os.Exit(1)
	}
}

// selectKinds resolves the flags into the kinds to run, in pipeline order.
func selectKinds(name string, stt, ta bool) ([]models.Kind, error) {
	var kinds []models.Kind
	if stt {
		kinds = append(kinds, models.KindTranscription)
	}
	if ta {
		kinds = append(kinds, models.KindAnalysis)
	}
	if name != "" {
		kind, ok := models.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown job kind %q", name)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no job kind selected")
	}
	return kinds, nil
}
