// Package pipeline drives the per-topic Generate/Evaluate/Retrieve loop:
// alternate a report.Generator and report.Evaluator turn, and whenever the
// evaluator is not satisfied, fan its follow-up questions out through a
// proctor.Proctor for fresh context, up to a bounded number of rounds.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Tangerg/veritas/internal/llmclient"
	"github.com/Tangerg/veritas/internal/proctor"
	"github.com/Tangerg/veritas/internal/ratelimit"
	"github.com/Tangerg/veritas/internal/report"
)

// MaxRounds bounds how many Generate/Evaluate/Retrieve cycles one topic runs
// before its best report slot is taken as final, whether or not it passed.
const MaxRounds = 3

// Topic is one fact-check subject to produce a report for.
type Topic struct {
	DocID string `json:"docid"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Result is one topic's final output: its best-scoring report and that
// report's rubric score.
type Result struct {
	ID     string `json:"id"`
	Report string `json:"report"`
	Score  int    `json:"score"`
}

// Driver wires together the LLM client, rate-limit gateway, and proctor a
// topic run needs.
type Driver struct {
	llm     *llmclient.Client
	gateway *ratelimit.Gateway
	proctor *proctor.Proctor
}

// New constructs a Driver.
func New(llm *llmclient.Client, gateway *ratelimit.Gateway, p *proctor.Proctor) *Driver {
	return &Driver{llm: llm, gateway: gateway, proctor: p}
}

// RunTopic executes the Generate/Evaluate/Retrieve loop for one topic and
// returns its best report slot.
func (d *Driver) RunTopic(ctx context.Context, topic Topic) (Result, error) {
	topicContent := fmt.Sprintf("Title: %s\n\nBody: %s", topic.Title, topic.Body)
	assistantID := topic.DocID
	if assistantID == "" {
		assistantID = topicContent
	}

	gen := report.NewGenerator(topicContent, assistantID, d.llm, d.gateway)
	eval := report.NewEvaluator(topicContent, assistantID, d.llm, d.gateway)

	var irContext, evalNote string
	for round := 0; round < MaxRounds; round++ {
		rpt, note, err := gen.Generate(ctx, irContext, evalNote)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: topic %s: generate: %w", topic.DocID, err)
		}

		evalNote, err = eval.Evaluate(ctx, rpt, irContext, note)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: topic %s: evaluate: %w", topic.DocID, err)
		}
		if eval.Status == report.StatusPass {
			break
		}

		irContext, err = d.proctor.BuildContext(ctx, eval.Questions)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: topic %s: build context: %w", topic.DocID, err)
		}
	}

	return Result{ID: topic.DocID, Report: eval.Best.Report, Score: eval.Best.Score}, nil
}

// RunAll runs every topic concurrently (bounded by concurrency) and returns
// their results in the same order as the input topics. A single topic's
// failure is recorded inline rather than aborting the whole run.
func (d *Driver) RunAll(ctx context.Context, topics []Topic, concurrency int) ([]Result, []error) {
	results := make([]Result, len(topics))
	errs := make([]error, len(topics))

	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := d.RunTopic(gctx, topic)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

// LoadTopics reads a JSONL topics file, skipping blank and malformed lines.
func LoadTopics(path string) ([]Topic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open topics file: %w", err)
	}
	defer f.Close()

	var topics []Topic
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var t Topic
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		topics = append(topics, t)
	}
	return topics, scanner.Err()
}

// WriteResults writes results to path as a single JSON array.
func WriteResults(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: create output file: %w", err)
	}
	defer f.Close()

	if results == nil {
		results = []Result{}
	}
	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(results); err != nil {
		return fmt.Errorf("pipeline: encode results: %w", err)
	}
	return w.Flush()
}
