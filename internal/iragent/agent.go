// Package iragent implements the IR (information-retrieval) agent state
// machine: a per-question-batch worker that alternates SEARCH_CALL,
// SELECT_CALL, and UPDATE_CALL turns against the LLM and the Search Daemon,
// tracking each question's answer status across a bounded round budget.
package iragent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Tangerg/veritas/internal/contracts"
	"github.com/Tangerg/veritas/internal/llmclient"
	"github.com/Tangerg/veritas/internal/ratelimit"
	"github.com/Tangerg/veritas/internal/search"
)

// Status is the lattice an agent's overall answer status moves through as
// its questions get answered across rounds.
type Status int

const (
	NoAnswer Status = iota
	Partial
	Finished
)

// MaxRounds bounds how many SEARCH/SELECT/UPDATE cycles an agent runs before
// it is forced into a FINAL_CALL summary turn.
const MaxRounds = 3

// Citation is one cited segment backing part of an answer.
type Citation struct {
	Summary  string `json:"summary"`
	Citation string `json:"citation"`
}

// Answer is the structured text+citations payload for one question.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// QuestionState is one question's current answer, as threaded through the
// UPDATE_CALL contract round over round.
type QuestionState struct {
	Question   string `json:"question"`
	DocContext string `json:"doc_context"`
	Answer     Answer `json:"answer"`
	Finished   bool   `json:"finished"`
}

// RoundSummary records what an UPDATE_CALL round tried and which segment ids
// it already saw, so future rounds avoid repeating dead-end queries.
type RoundSummary struct {
	Summary string   `json:"summary"`
	SeenIDs []string `json:"seen_ids"`
}

type updatePayload struct {
	Questions []QuestionState `json:"questions"`
	Rounds    []RoundSummary  `json:"rounds"`
}

type searchGroup struct {
	Queries     []string `json:"queries"`
	MasterQuery string   `json:"master_query"`
}

type searchCalls struct {
	Searches []searchGroup `json:"searches"`
}

type selectResponse struct {
	Selections []string `json:"selections"`
}

// Agent runs the plan/search/answer-update loop for one batch of questions.
type Agent struct {
	id        string
	questions string

	llm      *llmclient.Client
	gateway  *ratelimit.Gateway
	searcher *search.Searcher

	history []string // mirrors the message list for prompt-context serialization
	prevID  string

	Status     Status
	fullAnswer string
	finished   []QuestionState
	Summary    string
}

// New constructs an Agent for one batch of questions, JSON-serialized as a
// single string for the initial SEARCH_CALL prompt.
func New(questions string, llm *llmclient.Client, gateway *ratelimit.Gateway, searcher *search.Searcher) *Agent {
	return &Agent{
		id:        uuid.NewString(),
		questions: questions,
		llm:       llm,
		gateway:   gateway,
		searcher:  searcher,
		Status:    NoAnswer,
	}
}

// ID returns the agent's unique id, used to scope its search scratch files
// and its per-assistant rate-limit bucket.
func (a *Agent) ID() string { return a.id }

func (a *Agent) record(role, content string) {
	a.history = append(a.history, fmt.Sprintf("<|%s|>\n%s\n", role, content))
}

func (a *Agent) serializeHistory() string {
	return strings.Join(a.history, "")
}

// Run drives the agent through up to MaxRounds SEARCH/SELECT/UPDATE cycles,
// forcing a FINAL_CALL summary turn if the round budget is exhausted before
// every question is marked finished. It returns only an error; the resulting
// answer JSON (possibly partial), the finished questions, and any summary
// from a forced final call are read afterwards through FullAnswer,
// FinishedQuestions, and Summary.
func (a *Agent) Run(ctx context.Context) error {
	for round := 0; round < MaxRounds; round++ {
		selections, err := a.GetInfo(ctx, round == 0)
		if err != nil {
			return fmt.Errorf("iragent: round %d get_info: %w", round, err)
		}
		if err := a.UpdateAnswer(ctx, selections); err != nil {
			return fmt.Errorf("iragent: round %d update_answer: %w", round, err)
		}
		if a.Status == Finished {
			return nil
		}
		if err := a.ResetLogicalThread(ctx); err != nil {
			return fmt.Errorf("iragent: round %d reset: %w", round, err)
		}
	}
	return a.ForceFinalPrompt(ctx)
}

// GetInfo runs the SEARCH_CALL then SELECT_CALL turns and returns the
// selected-segment JSON to feed into UpdateAnswer.
func (a *Agent) GetInfo(ctx context.Context, firstRound bool) (string, error) {
	var contextBlock string
	if firstRound {
		contextBlock = "<questions>" + a.questions + "</questions>"
	} else {
		contextBlock = "<current_answer>" + a.fullAnswer + "</current_answer>"
	}

	content := contracts.Search + contextBlock
	a.record("user", content)

	instructions := contracts.GlobalFormat
	searchResult, err := a.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:  a.id,
		Stage:        ratelimit.StageSearchCall,
		Instructions: instructions,
		Prompt:       content,
	}, a.llm.AsInvoke(instructions, content))
	if err != nil {
		return "", fmt.Errorf("iragent: search call: %w", err)
	}
	a.prevID = searchResult.ResponseID
	a.record("assistant", searchResult.Output)

	searchResultsBlob := a.dispatchSearches(ctx, searchResult.Output)

	selectContent := contracts.Select + "\n\n<search_metadata>" + searchResultsBlob + "</search_metadata>"
	selectResult, err := a.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:    a.id,
		Stage:          ratelimit.StageSelectCall,
		Instructions:   instructions,
		Context:        a.serializeHistory(),
		Prompt:         selectContent,
		PrevResponseID: a.prevID,
	}, a.llm.AsInvoke(instructions, selectContent))
	if err != nil {
		return "", fmt.Errorf("iragent: select call: %w", err)
	}

	return a.dispatchSelect(ctx, selectResult.Output), nil
}

// dispatchSearches parses the SEARCH_CALL's search groups (up to 2) and
// issues them against the Searcher concurrently, returning a newline-joined
// JSON blob of each group's results. A parse or search failure degrades to
// an error sentinel rather than aborting the round.
func (a *Agent) dispatchSearches(ctx context.Context, raw string) string {
	var calls searchCalls
	if err := contracts.DecodeTag(raw, "answer", &calls); err != nil {
		return "Error performing search, produce an empty selections array"
	}
	groups := calls.Searches
	if len(groups) > 2 {
		groups = groups[:2]
	}
	if len(groups) == 0 {
		return "Error performing search, produce an empty selections array"
	}

	results := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			segments, err := a.searcher.Search(gctx, group.Queries, group.MasterQuery, a.id)
			if err != nil {
				results[i] = fmt.Sprintf(`{"search":%q,"error":%q}`, strings.Join(group.Queries, ","), err.Error())
				return nil
			}
			b, _ := json.Marshal(struct {
				Search  string              `json:"search"`
				Results []search.SegmentMeta `json:"results"`
			}{Search: strings.Join(group.Queries, ","), Results: segments})
			results[i] = string(b)
			return nil
		})
	}
	_ = g.Wait()
	return strings.Join(results, "\n")
}

// dispatchSelect parses the SELECT_CALL's segment ids (up to 6) and asks
// the daemon to retrieve those individual segments (not the full documents
// they belong to).
func (a *Agent) dispatchSelect(ctx context.Context, raw string) string {
	var sel selectResponse
	if err := contracts.DecodeTag(raw, "answer", &sel); err != nil {
		return "Error performing document retrieval: instead of attempting to update the answer just rewrite the previous answer."
	}
	ids := sel.Selections
	if len(ids) > 6 {
		ids = ids[:6]
	}
	if len(ids) == 0 {
		ids = []string{"dummy_id"}
	}

	resp, err := a.searcher.SelectDocuments(ctx, ids)
	if err != nil {
		return "Error performing document retrieval: instead of attempting to update the answer just rewrite the previous answer."
	}
	return resp
}

// UpdateAnswer runs the UPDATE_CALL turn, folding toolOutputs (the selected
// segments) into the prompt, then refreshes Status from the decoded answer.
func (a *Agent) UpdateAnswer(ctx context.Context, toolOutputs string) error {
	content := contracts.Update + "\n\n<selected_segments>" + toolOutputs + "</selected_segments>"
	a.record("user", content)

	instructions := contracts.GlobalFormat
	result, err := a.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:    a.id,
		Stage:          ratelimit.StageUpdateCall,
		Instructions:   instructions,
		Context:        a.serializeHistory(),
		Prompt:         content,
		PrevResponseID: a.prevID,
	}, a.llm.AsInvoke(instructions, content))
	if err != nil {
		return fmt.Errorf("iragent: update call: %w", err)
	}
	a.record("assistant", result.Output)

	answer := contracts.ExtractTag(result.Output, "answer")
	if answer == "" {
		answer = result.Output
	}
	a.fullAnswer = answer
	a.prevID = result.ResponseID

	a.updateStatus()
	return nil
}

func (a *Agent) updateStatus() {
	if a.fullAnswer == "" {
		a.Status = NoAnswer
		return
	}

	var payload updatePayload
	if err := json.Unmarshal([]byte(a.fullAnswer), &payload); err != nil {
		a.Status = Partial
		return
	}

	prevStatus := a.Status
	var finished, remaining []QuestionState
	for _, q := range payload.Questions {
		if q.Finished {
			finished = append(finished, q)
		} else {
			remaining = append(remaining, q)
		}
	}
	// Finished questions carry their answers and citations out of the
	// in-flight payload permanently: they are evidence the proctor must feed
	// back to the Generator, not scratch state to discard once a question
	// stops being asked about.
	a.finished = append(a.finished, finished...)
	payload.Questions = remaining
	if b, err := json.Marshal(payload); err == nil {
		a.fullAnswer = string(b)
	}

	switch {
	case len(remaining) == 0:
		a.Status = Finished
	case len(finished) > 0:
		a.Status = Partial
	case prevStatus == NoAnswer:
		a.Status = NoAnswer
	default:
		a.Status = Partial
	}
}

// ResetLogicalThread clears the mirrored conversation history and the
// previous-response-id chain between rounds, so each round's prompt budget
// is estimated against a fresh (not ever-growing) context.
func (a *Agent) ResetLogicalThread(ctx context.Context) error {
	a.history = nil
	a.prevID = ""
	return nil
}

// ForceFinalPrompt issues the FINAL_CALL contract once the round budget is
// exhausted, recording its summary.
func (a *Agent) ForceFinalPrompt(ctx context.Context) error {
	a.record("user", contracts.Final)
	instructions := contracts.GlobalFormat
	result, err := a.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:    a.id,
		Stage:          ratelimit.StageFinalCall,
		Instructions:   instructions,
		Context:        a.serializeHistory(),
		Prompt:         contracts.Final,
		PrevResponseID: a.prevID,
	}, a.llm.AsInvoke(instructions, contracts.Final))
	if err != nil {
		return fmt.Errorf("iragent: final call: %w", err)
	}
	a.Summary = contracts.ExtractTag(result.Output, "summary")
	return nil
}

// FullAnswer returns the agent's current (possibly partial) structured
// answer JSON, covering only the questions still unanswered.
func (a *Agent) FullAnswer() string { return a.fullAnswer }

// FinishedQuestions returns every question this agent has fully answered
// across all rounds, evidence the proctor folds into the context blob it
// hands back to the Generator.
func (a *Agent) FinishedQuestions() []QuestionState { return a.finished }
