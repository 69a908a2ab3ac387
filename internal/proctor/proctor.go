// Package proctor runs the IR ensemble over a batch of questions: a small
// pool of workers, staggered at startup so their SEARCH/SELECT/UPDATE calls
// don't all land on the same rate-limit window at once, each driving one
// iragent.Agent to completion and handing back its answer.
package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Tangerg/veritas/internal/iragent"
	"github.com/Tangerg/veritas/internal/llmclient"
	"github.com/Tangerg/veritas/internal/ratelimit"
	"github.com/Tangerg/veritas/internal/report"
	"github.com/Tangerg/veritas/internal/search"
	"github.com/Tangerg/veritas/pkg/safe"
	pkgsync "github.com/Tangerg/veritas/pkg/sync"
)

// MaxWorkers is the size of the proctor's worker pool.
const MaxWorkers = 5

// Stagger is the delay between successive workers' first batch pickup.
const Stagger = 1 * time.Second

// BatchSize is how many questions each worker hands to one iragent.Agent.
const BatchSize = 2

const separator = "\n===================================\n"

type batch struct {
	index     int
	questions []report.Question
}

// Proctor fans a question list out across a staggered worker pool, each
// worker driving an iragent.Agent over one small batch.
type Proctor struct {
	llm      *llmclient.Client
	gateway  *ratelimit.Gateway
	searcher *search.Searcher
	pool     pkgsync.Pool
}

// New constructs a Proctor, backing its worker launches with an
// ants-managed goroutine pool capped at MaxWorkers. If the pool fails to
// construct, it falls back to pkgsync.PoolOfNoPool so the proctor still
// runs, just without the ants pool's goroutine reuse.
func New(llm *llmclient.Client, gateway *ratelimit.Gateway, searcher *search.Searcher) *Proctor {
	pool, err := ants.NewPool(MaxWorkers)
	var p pkgsync.Pool
	if err != nil {
		p = pkgsync.PoolOfNoPool()
	} else {
		p = pkgsync.PoolOfAnts(pool)
	}
	return &Proctor{llm: llm, gateway: gateway, searcher: searcher, pool: p}
}

// BuildContext runs every question through the IR ensemble and returns the
// batches' answers concatenated in original order, separated by a divider
// line, ready to feed into the next Generate round as IR context. Each
// batch's JSON carries both its still-open answer and every question the
// agent fully finished, so completed evidence survives into the next round
// instead of being dropped once a question stops being asked about.
func (p *Proctor) BuildContext(ctx context.Context, questions []report.Question) (string, error) {
	if len(questions) == 0 {
		return "", nil
	}

	batches := chunk(questions, BatchSize)
	results := make([]string, len(batches))

	queue := make(chan batch, len(batches))
	for i, b := range batches {
		queue <- batch{index: i, questions: b}
	}
	close(queue)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	workers := MaxWorkers
	if workers > len(batches) {
		workers = len(batches)
	}

	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		job := safe.WithRecover(func() {
			defer wg.Done()
			if w > 0 {
				select {
				case <-time.After(time.Duration(w) * Stagger):
				case <-ctx.Done():
					return
				}
			}
			for b := range queue {
				out, err := p.processBatch(ctx, b.questions)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				results[b.index] = out
			}
		}, func(err error) {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("proctor: worker %d panicked: %w", w, err)
			}
			mu.Unlock()
		})
		if err := p.pool.Submit(job); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("proctor: submitting worker %d: %w", w, err)
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return "", firstErr
	}

	nonEmpty := make([]string, 0, len(results))
	for _, r := range results {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	return strings.Join(nonEmpty, separator), nil
}

func (p *Proctor) processBatch(ctx context.Context, questions []report.Question) (string, error) {
	stringified := make([]string, len(questions))
	for i, q := range questions {
		b, err := json.Marshal(q)
		if err != nil {
			return "", fmt.Errorf("proctor: marshal question: %w", err)
		}
		stringified[i] = string(b)
	}

	agent := iragent.New(strings.Join(stringified, "\n"), p.llm, p.gateway, p.searcher)
	if err := agent.Run(ctx); err != nil {
		return "", fmt.Errorf("proctor: agent run: %w", err)
	}

	out := struct {
		Answer   string                 `json:"answer"`
		Finished []iragent.QuestionState `json:"finished,omitempty"`
		Summary  string                 `json:"summary,omitempty"`
	}{Answer: agent.FullAnswer(), Finished: agent.FinishedQuestions(), Summary: agent.Summary}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("proctor: marshal batch result: %w", err)
	}
	return string(b), nil
}

func chunk(questions []report.Question, size int) [][]report.Question {
	var out [][]report.Question
	for i := 0; i < len(questions); i += size {
		end := i + size
		if end > len(questions) {
			end = len(questions)
		}
		out = append(out, questions[i:end])
	}
	return out
}
