package ratelimit

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encoding name used by every GPT-4.1 family model the pipeline talks to.
const encodingName = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens returns the number of o200k_base tokens in text. If the
// encoder fails to load it falls back to a conservative 4-bytes-per-token
// estimate rather than failing the caller's reservation outright.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	e, err := encoder()
	if err != nil {
		return len(text)/4 + 1
	}
	return len(e.Encode(text, nil, nil))
}

// PromptBuffer mirrors the fixed safety margin reserved on top of a call's
// estimated prompt+completion tokens, to absorb encoder drift between our
// estimate and what the API actually bills.
func PromptBuffer(maxOut int) int {
	return int(float64(maxOut) * 0.025)
}
