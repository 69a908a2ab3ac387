package ratelimit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_ReservationTooLargeFailsFast(t *testing.T) {
	g := NewGateway()
	// 150,000 single-letter words: well over the 75,000-token SEARCH_CALL
	// cap under both the o200k_base encoder and the 4-bytes-per-token fallback.
	longPrompt := strings.Repeat("a ", 150_000)

	_, err := g.Gated(context.Background(), Call{
		AssistantID: "a1",
		Stage:       StageSearchCall,
		Prompt:      longPrompt,
	}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
		t.Fatal("fn should not be invoked when the reservation is too large")
		return Result{}, nil
	})

	var tooLarge *ReservationTooLarge
	assert.ErrorAs(t, err, &tooLarge)
}

func TestGateway_RefundsSurplusAfterSuccess(t *testing.T) {
	g := NewGateway()
	before := g.Snapshot().GlobalTokens

	_, err := g.Gated(context.Background(), Call{
		AssistantID: "a1",
		Stage:       StageUpdateCall,
		Prompt:      "hello",
	}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
		return Result{Output: "ok", UsedTokens: 10}, nil
	})
	require.NoError(t, err)

	after := g.Snapshot().GlobalTokens
	assert.Equal(t, before+10, after)
}

func TestGateway_NoRefundOnFailure(t *testing.T) {
	g := NewGateway()

	_, err := g.Gated(context.Background(), Call{
		AssistantID: "a1",
		Stage:       StageUpdateCall,
		Prompt:      "hello",
	}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
		return Result{}, assert.AnError
	})
	assert.Error(t, err)

	reserve := estimate("", "", "hello", stageConfigs[StageUpdateCall].params.MaxOutputTokens)
	assert.Equal(t, reserve, g.Snapshot().GlobalTokens)
}

func TestGateway_SearchCallUsesPlanBucketNotGenOrGlobal(t *testing.T) {
	g := NewGateway()

	_, err := g.Gated(context.Background(), Call{
		AssistantID: "a1",
		Stage:       StageSearchCall,
		Prompt:      "hello",
	}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
		return Result{Output: "ok", UsedTokens: 5}, nil
	})
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, 5, snap.PlanTokens)
	assert.Equal(t, 0, snap.GenTokens)
	assert.Equal(t, 0, snap.GlobalTokens)
}

func TestGateway_GenCallUsesGenBucketNotPlanOrGlobal(t *testing.T) {
	g := NewGateway()

	_, err := g.Gated(context.Background(), Call{
		AssistantID: "a1",
		Stage:       StageGen,
		Prompt:      "hello",
	}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
		return Result{Output: "ok", UsedTokens: 5}, nil
	})
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, 5, snap.GenTokens)
	assert.Equal(t, 0, snap.PlanTokens)
	assert.Equal(t, 0, snap.GlobalTokens)
}

func TestGateway_PerAssistantBucketsAreIsolated(t *testing.T) {
	g := NewGateway()

	run := func(assistant string) {
		_, err := g.Gated(context.Background(), Call{
			AssistantID: assistant,
			Stage:       StageSelectCall,
			Prompt:      "hello",
		}, func(ctx context.Context, params StageParams, prev string) (Result, error) {
			return Result{Output: "ok", UsedTokens: 100}, nil
		})
		require.NoError(t, err)
	}
	run("a1")
	run("a2")

	snap := g.Snapshot()
	assert.Equal(t, 100, snap.AssistantTokens["a1"])
	assert.Equal(t, 100, snap.AssistantTokens["a2"])
}
