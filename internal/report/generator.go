// Package report implements the Report Generator and Report Evaluator: the
// two single-turn LLM roles the Pipeline Driver alternates between each
// round, accumulating notes and a monotonically improving best-report slot.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tangerg/veritas/internal/contracts"
	"github.com/Tangerg/veritas/internal/llmclient"
	"github.com/Tangerg/veritas/internal/ratelimit"
)

const generatorSystemPrompt = `You are a fact-checking report generator. Given a topic document, the IR context gathered so far, your own prior notes, and the evaluator's feedback, write or revise a report that accurately reflects what the topic document supports, citing evidence segment ids where the IR context provides them.

You must answer with the following format:
<cot> Brief chain-of-thought </cot>
<note> A short note to the evaluator about what changed and why </note>
<report>{"responses":[{"text":"<text block>","citations":["<segment_id>", ...]}, ...]}</report>

Hard constraints: at most 4 citations per text block; the sum of word counts across every text block must not exceed 250; every citation must name a segment id actually present in the IR context. No markdown, code fences, or extra keys inside <report>.`

// maxCitationsPerText and maxReportWords are the report contract's hard
// constraints; reports that violate them are clamped rather than rejected,
// so a still-useful partial report always reaches the Evaluator.
const maxCitationsPerText = 4
const maxReportWords = 250

// ReportItem is one cited block of a report: a self-contained passage of
// prose backed by up to maxCitationsPerText evidence segment ids.
type ReportItem struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// Report is the structured payload the Generator must produce inside its
// <report> tag: an ordered sequence of cited text blocks.
type Report struct {
	Responses []ReportItem `json:"responses"`
}

// clampReport enforces the report contract's hard constraints, trimming
// citations and truncating text rather than dropping a report outright.
func clampReport(r Report) Report {
	out := Report{Responses: make([]ReportItem, 0, len(r.Responses))}
	words := 0
	for _, item := range r.Responses {
		if len(item.Citations) > maxCitationsPerText {
			item.Citations = item.Citations[:maxCitationsPerText]
		}

		fields := strings.Fields(item.Text)
		if words+len(fields) > maxReportWords {
			fields = fields[:maxReportWords-words]
			item.Text = strings.Join(fields, " ")
			if item.Text != "" {
				out.Responses = append(out.Responses, item)
			}
			break
		}
		words += len(fields)
		out.Responses = append(out.Responses, item)
	}
	return out
}

// Generator produces and revises a report across rounds, threading its own
// notes and the evaluator's notes back into each prompt.
type Generator struct {
	topic       string
	assistantID string
	llm         *llmclient.Client
	gateway     *ratelimit.Gateway

	curReport string
	myNotes   []string
	evalNotes []string
	prevID    string
}

// NewGenerator constructs a Generator for one topic's pipeline run.
func NewGenerator(topic, assistantID string, llm *llmclient.Client, gw *ratelimit.Gateway) *Generator {
	return &Generator{
		topic:       topic,
		assistantID: assistantID,
		llm:         llm,
		gateway:     gw,
	}
}

// Report returns the generator's current best-known report text.
func (g *Generator) Report() string {
	return g.curReport
}

// LatestNote returns the note the generator attached to its most recent
// revision, for the Evaluator to read back.
func (g *Generator) LatestNote() string {
	if len(g.myNotes) == 0 {
		return ""
	}
	return g.myNotes[len(g.myNotes)-1]
}

func (g *Generator) serializeNotes(mine bool) string {
	notes := g.myNotes
	label := "Evaluation note"
	if !mine {
		notes = g.evalNotes
	}
	var b strings.Builder
	for i, n := range notes {
		if n == "" {
			n = "First round no note yet or trouble parsing eval note"
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i, label, n)
	}
	return b.String()
}

// Generate runs one generation turn: folds in irContext and the evaluator's
// feedback (evalNote), calls the LLM, and returns the revised report and the
// generator's new note. If the response carries no <report> tag, the raw
// content is stored as the report and a synthesized fallback note is
// recorded; a <report> tag whose JSON does not decode is kept verbatim (see
// applyOutput). Either way the pipeline has something to hand the evaluator
// rather than stalling on a malformed turn.
func (g *Generator) Generate(ctx context.Context, irContext, evalNote string) (report, note string, err error) {
	g.evalNotes = append(g.evalNotes, evalNote)

	prevReport := g.curReport
	if prevReport == "" {
		prevReport = "First round no report yet"
	}
	ctxBlock := irContext
	if ctxBlock == "" {
		ctxBlock = "First round no IR context yet"
	}

	prompt := fmt.Sprintf(
		"Topic:\n%s\nPrevious report:\n%s\nYour notes:\n%sEvaluation notes:\n%sEvaluation:\n%s\nIR context:\n%s\n",
		g.topic, prevReport, g.serializeNotes(true), g.serializeNotes(false), evalNote, ctxBlock,
	)

	instructions := contracts.GlobalFormat + "\n\n" + generatorSystemPrompt

	result, err := g.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:    g.assistantID,
		Stage:          ratelimit.StageGen,
		Instructions:   instructions,
		Prompt:         prompt,
		PrevResponseID: g.prevID,
	}, g.llm.AsInvoke(instructions, prompt))
	if err != nil {
		return "", "", fmt.Errorf("report: generate call: %w", err)
	}
	g.prevID = result.ResponseID
	g.applyOutput(result.Output)

	return g.curReport, g.myNotes[len(g.myNotes)-1], nil
}

// applyOutput extracts the <report>/<note> pair from one generation turn's
// raw output. The <report> tag's contents are decoded against the
// {"responses":[{"text","citations"}]} schema and clamped to the contract's
// hard constraints before being re-serialized as g.curReport; a tag that
// fails to parse is kept verbatim so the evaluator still sees something. A
// missing <report> tag entirely falls back to storing the raw content.
func (g *Generator) applyOutput(output string) {
	extractedReport := contracts.ExtractTag(output, "report")
	extractedNote := contracts.ExtractTag(output, "note")
	if extractedReport == "" {
		g.curReport = output
		g.myNotes = append(g.myNotes, "report parse failed, raw content stored")
		return
	}

	var parsed Report
	if err := json.Unmarshal([]byte(extractedReport), &parsed); err != nil {
		g.curReport = extractedReport
		g.myNotes = append(g.myNotes, extractedNote)
		return
	}

	if b, err := json.Marshal(clampReport(parsed)); err == nil {
		g.curReport = string(b)
	} else {
		g.curReport = extractedReport
	}
	g.myNotes = append(g.myNotes, extractedNote)
}
