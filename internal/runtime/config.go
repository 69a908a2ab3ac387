// Package runtime assembles the pipeline's component graph — rate-limit
// gateway, LLM client, search daemon, searcher, and proctor — from a Config
// loaded out of the environment, mirroring how the original scripts read
// their .env before constructing clients.
package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config holds every environment-derived setting the runtime needs.
type Config struct {
	OpenAIAPIKey string
	CohereAPIKey string

	SearchDaemonCommand string
	SearchDaemonArgs    []string

	ScratchRoot string
	LogLevel    slog.Level

	TopicConcurrency int

	DaemonGracefulStop time.Duration
	DaemonTermStop     time.Duration

	// StopOnEmptyIRQuestions is read from STOP_ON_EMPTY_IR_QUESTIONS
	// (default false). The pipeline driver does not consult it: every topic
	// runs until the evaluator passes a report or the round budget is
	// exhausted, whether or not the evaluator returned follow-up questions.
	StopOnEmptyIRQuestions bool
}

// LoadConfig reads a .env file (if present, ignored if absent) and then the
// process environment, applying defaults for anything unset.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("runtime: load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Config{
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		CohereAPIKey:           os.Getenv("COHERE_API_KEY"),
		SearchDaemonCommand:    getenv("SEARCH_DAEMON_COMMAND", "search-daemon"),
		ScratchRoot:            getenv("SCRATCH_ROOT", "./scratch"),
		TopicConcurrency:       getenvInt("TOPIC_CONCURRENCY", 3),
		DaemonGracefulStop:     getenvDuration("DAEMON_GRACEFUL_STOP", 5*time.Second),
		DaemonTermStop:         getenvDuration("DAEMON_TERM_STOP", 5*time.Second),
		StopOnEmptyIRQuestions: getenvBool("STOP_ON_EMPTY_IR_QUESTIONS", false),
	}

	if args := os.Getenv("SEARCH_DAEMON_ARGS"); args != "" {
		cfg.SearchDaemonArgs = []string{args}
	}

	level := getenv("LOG_LEVEL", "info")
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	cfg.LogLevel = lvl

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("runtime: OPENAI_API_KEY is required")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// NewLogger builds the process-wide structured logger at the configured
// level, writing to stderr.
func (c Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

// NewHTTPClient builds the shared HTTP client used for rerank calls.
func (c Config) NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
