package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tangerg/veritas/internal/daemon"
	"github.com/Tangerg/veritas/internal/llmclient"
	"github.com/Tangerg/veritas/internal/pipeline"
	"github.com/Tangerg/veritas/internal/proctor"
	"github.com/Tangerg/veritas/internal/ratelimit"
	"github.com/Tangerg/veritas/internal/search"
)

// Handle is the fully wired component graph one process needs to run the
// fact-check pipeline.
type Handle struct {
	Config  Config
	Logger  *slog.Logger
	Gateway *ratelimit.Gateway
	LLM     *llmclient.Client
	Daemon  *daemon.Daemon
	Search  *search.Searcher
	Proctor *proctor.Proctor
	Driver  *pipeline.Driver
}

// New assembles every component from cfg. The search daemon subprocess is
// not started until its first Search call.
func New(cfg Config) *Handle {
	logger := cfg.NewLogger()
	gateway := ratelimit.NewGateway()
	llm := llmclient.New(cfg.OpenAIAPIKey)
	d := daemon.New(cfg.SearchDaemonCommand, cfg.SearchDaemonArgs, logger)
	searcher := search.New(d, gateway, cfg.NewHTTPClient(), cfg.CohereAPIKey, cfg.ScratchRoot)
	proc := proctor.New(llm, gateway, searcher)
	driver := pipeline.New(llm, gateway, proc)

	return &Handle{
		Config:  cfg,
		Logger:  logger,
		Gateway: gateway,
		LLM:     llm,
		Daemon:  d,
		Search:  searcher,
		Proctor: proc,
		Driver:  driver,
	}
}

// Close shuts the search daemon subprocess down, if it was started.
func (h *Handle) Close() error {
	if err := h.Daemon.Stop(h.Config.DaemonGracefulStop, h.Config.DaemonTermStop); err != nil {
		return fmt.Errorf("runtime: stopping search daemon: %w", err)
	}
	return nil
}

// RunTopics runs every topic through the pipeline driver and returns their
// results in input order.
func (h *Handle) RunTopics(ctx context.Context, topics []pipeline.Topic) ([]pipeline.Result, []error) {
	return h.Driver.RunAll(ctx, topics, h.Config.TopicConcurrency)
}
