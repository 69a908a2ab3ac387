// Command veritas runs the closed-loop report pipeline over a JSONL topics
// file and writes the scored reports, one per topic, as a JSON array.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tangerg/veritas/internal/pipeline"
	"github.com/Tangerg/veritas/internal/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "veritas:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		topicsFile = flag.String("topics", "", "path to a JSONL topics file (required)")
		outputFile = flag.String("out", "runs.json", "path to write scored results as a JSON array")
		envFile    = flag.String("env", "", "path to a .env file (optional, falls back to ./.env)")
		maxTopics  = flag.Int("max-topics", 0, "process at most this many topics (0 = all)")
	)
	flag.Parse()

	if *topicsFile == "" {
		return fmt.Errorf("-topics is required")
	}

	cfg, err := runtime.LoadConfig(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	h := runtime.New(cfg)
	defer func() {
		if cerr := h.Close(); cerr != nil {
			h.Logger.Error("shutting down search daemon", "error", cerr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	topics, err := pipeline.LoadTopics(*topicsFile)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	if *maxTopics > 0 && len(topics) > *maxTopics {
		topics = topics[:*maxTopics]
	}
	h.Logger.Info("loaded topics", "count", len(topics), "source", *topicsFile)

	results, errs := h.RunTopics(ctx, topics)

	ok := make([]pipeline.Result, 0, len(results))
	for i, r := range results {
		if errs[i] != nil {
			h.Logger.Error("topic failed", "docid", topics[i].DocID, "error", errs[i])
			continue
		}
		ok = append(ok, r)
	}

	if err := pipeline.WriteResults(*outputFile, ok); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	h.Logger.Info("pipeline complete", "topics", len(topics), "succeeded", len(ok), "output", *outputFile)
	return nil
}
