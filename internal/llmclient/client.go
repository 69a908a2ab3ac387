// Package llmclient wraps the OpenAI Responses API with the single call
// shape every stage of the pipeline needs: an instructions string, a user
// turn, an optional previous-response-id to chain off of, and stage-specific
// sampling parameters. It exists so internal/ratelimit.Gateway has a single
// narrow surface to invoke through, rather than depending on the SDK
// directly.
package llmclient

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"github.com/Tangerg/veritas/internal/ratelimit"
)

// Client issues Responses API calls. It holds no per-call state; callers
// thread conversation continuity themselves via PrevResponseID.
type Client struct {
	sdk openai.Client
}

// New constructs a Client. apiKey may be empty to fall back to the SDK's
// own OPENAI_API_KEY environment lookup.
func New(apiKey string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Client{sdk: openai.NewClient(opts...)}
}

// Response is the trimmed result every stage of the pipeline consumes: the
// model's raw text output, its id (for chaining), and the tokens it billed.
type Response struct {
	ID         string
	OutputText string
	TotalTokens int
}

// Complete issues one Responses API turn with instructions as the system
// prompt and prompt as the user turn, chaining off prevResponseID when set.
func (c *Client) Complete(ctx context.Context, instructions, prompt string, params ratelimit.StageParams, prevResponseID string) (Response, error) {
	body := responses.ResponseNewParams{
		Model:           responses.ResponsesModel(params.Model),
		Instructions:    openai.String(instructions),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(prompt)},
		MaxOutputTokens: openai.Int(int64(params.MaxOutputTokens)),
		Temperature:     openai.Float(params.Temperature),
		TopP:            openai.Float(params.TopP),
	}
	if prevResponseID != "" {
		body.PreviousResponseID = openai.String(prevResponseID)
	}

	resp, err := c.sdk.Responses.New(ctx, body)
	if err != nil {
		return Response{}, fmt.Errorf("llmclient: responses.New: %w", err)
	}
	return Response{
		ID:          resp.ID,
		OutputText:  resp.OutputText(),
		TotalTokens: int(resp.Usage.TotalTokens),
	}, nil
}

// AsInvoke adapts Client.Complete into the ratelimit.Invoke signature the
// Gateway calls through once its reservations are in place, binding the
// instructions and prompt for one gated call.
func (c *Client) AsInvoke(instructions, prompt string) ratelimit.Invoke {
	return func(ctx context.Context, params ratelimit.StageParams, prevResponseID string) (ratelimit.Result, error) {
		resp, err := c.Complete(ctx, instructions, prompt, params, prevResponseID)
		if err != nil {
			return ratelimit.Result{}, err
		}
		return ratelimit.Result{
			Output:     resp.OutputText,
			ResponseID: resp.ID,
			UsedTokens: resp.TotalTokens,
		}, nil
	}
}
