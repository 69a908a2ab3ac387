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

const evaluatorSystemPrompt = `You are a fact-checking report evaluator. Given the topic document, the report under review, the IR context gathered so far, and prior notes from both yourself and the generator, score the report and propose follow-up questions for the IR ensemble to chase down.

You must answer with the following format:
<cot> Plan out your evaluation here: note the good, the bad, and relevant planning steps </cot>
<note> Your note to the report generator </note>
<ir>
{
  "questions": [
    {"question": "<question>", "context": "<context from the document that might be needed to answer it>"}
  ]
}
</ir>
<eval>
{
  "coverage": 4,
  "accuracy": 5,
  "citation_quality": 3,
  "style": 4,
  "prioritization": 4,
  "completeness": 3,
  "information_density": 3
}
</eval>

information_density is optional; omit the key entirely rather than guessing at a score if the report gives you nothing to judge density against.`

// EvalStatus is the outcome of one evaluation turn.
type EvalStatus int

const (
	StatusIncomplete EvalStatus = iota
	StatusPass
	StatusFail
)

// Rubric is the weighted per-criterion score the evaluator returns, matching
// the keys the LLM is asked to fill in on the <eval> tag. InformationDensity
// is optional — nil when the model omits it, which drops it from both the
// total and MAX rather than scoring it as a 0.
type Rubric struct {
	Coverage           int  `json:"coverage"`
	Accuracy           int  `json:"accuracy"`
	CitationQuality    int  `json:"citation_quality"`
	Style              int  `json:"style"`
	Prioritization     int  `json:"prioritization"`
	Completeness       int  `json:"completeness"`
	InformationDensity *int `json:"information_density,omitempty"`
}

// baseMaxRubricScore is the rubric's normalization ceiling when
// information_density is absent (55); it climbs to 65 when the model scores
// it, per the evaluator's scoring contract.
const baseMaxRubricScore = 55
const informationDensityWeight = 1
const informationDensityMaxAdd = 10

// passThreshold is the fraction of a rubric's MAX a report must reach to
// pass: scores strictly below 0.9*MAX fail.
const passThreshold = 0.9

// weightedTotal applies the rubric's per-criterion weights. When
// InformationDensity is set, its weighted score is folded in.
func weightedTotal(r Rubric) int {
	total := 3*r.Coverage + 2*r.Accuracy + 2*r.CitationQuality + r.Style +
		r.Prioritization + r.Completeness
	if r.InformationDensity != nil {
		total += informationDensityWeight * *r.InformationDensity
	}
	return total
}

// maxForRubric returns 65 if r carries an information_density score, else 55.
func maxForRubric(r Rubric) int {
	if r.InformationDensity != nil {
		return baseMaxRubricScore + informationDensityMaxAdd
	}
	return baseMaxRubricScore
}

// Question is one IR follow-up the evaluator wants chased down before the
// next generation round.
type Question struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

// BestSlot tracks the highest-scoring report seen across rounds so the
// pipeline always has a non-decreasing result to fall back to, even if a
// later round's report scores lower.
type BestSlot struct {
	Report string
	Score  int
}

// Evaluator scores a report across rounds and proposes IR follow-up
// questions, tracking the best report seen so far.
type Evaluator struct {
	topic       string
	assistantID string
	llm         *llmclient.Client
	gateway     *ratelimit.Gateway

	myNotes  []string
	genNotes []string
	prevID   string

	Status    EvalStatus
	Questions []Question
	Best      BestSlot
}

// NewEvaluator constructs an Evaluator for one topic's pipeline run.
func NewEvaluator(topic, assistantID string, llm *llmclient.Client, gw *ratelimit.Gateway) *Evaluator {
	return &Evaluator{
		topic:       topic,
		assistantID: assistantID,
		llm:         llm,
		gateway:     gw,
		Status:      StatusIncomplete,
	}
}

func (e *Evaluator) serializeNotes(mine bool) string {
	notes := e.myNotes
	label := "Evaluation note"
	if !mine {
		notes = e.genNotes
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

// Evaluate runs one evaluation turn against report, folding in irContext and
// the generator's latest comment. It updates Status, Questions, and Best,
// returning the evaluator's note back to the generator.
//
// A FAIL whose <ir> questions decode to an empty list is not special-cased
// here, and the pipeline driver does not special-case it either: it does not
// read the runtime's StopOnEmptyIRQuestions setting and keeps running rounds
// until a PASS or until its round budget runs out.
func (e *Evaluator) Evaluate(ctx context.Context, report, irContext, generatorComment string) (note string, err error) {
	e.genNotes = append(e.genNotes, generatorComment)

	ctxBlock := irContext
	if ctxBlock == "" {
		ctxBlock = "First round no IR context yet"
	}
	prompt := fmt.Sprintf(
		"Topic document:\n%s\nReport:\n%s\nIR Context:\n%s\nGenerator Comments:\n%sYour Comments:\n%s",
		e.topic, report, ctxBlock, e.serializeNotes(false), e.serializeNotes(true),
	)

	instructions := contracts.GlobalFormat + "\n\n" + evaluatorSystemPrompt

	result, err := e.gateway.Gated(ctx, ratelimit.Call{
		AssistantID:    e.assistantID,
		Stage:          ratelimit.StageGen,
		Instructions:   instructions,
		Prompt:         prompt,
		PrevResponseID: e.prevID,
	}, e.llm.AsInvoke(instructions, prompt))
	if err != nil {
		return "", fmt.Errorf("report: evaluate call: %w", err)
	}
	e.prevID = result.ResponseID

	if strings.TrimSpace(result.Output) == "" {
		return "", fmt.Errorf("report: empty response from evaluator LLM")
	}

	e.updateStatus(result.Output, report)
	return e.myNotes[len(e.myNotes)-1], nil
}

func (e *Evaluator) updateStatus(content, report string) {
	note := contracts.ExtractTag(content, "note")

	var ir struct {
		Questions []Question `json:"questions"`
	}
	if err := contracts.DecodeTag(content, "ir", &ir); err != nil {
		e.myNotes = append(e.myNotes, "Error parsing evaluation")
		e.Questions = nil
		e.Status = StatusFail
		return
	}
	e.myNotes = append(e.myNotes, note)
	e.Questions = ir.Questions

	var rubric Rubric
	if err := contracts.DecodeTag(content, "eval", &rubric); err != nil {
		e.Status = StatusFail
		return
	}

	total := weightedTotal(rubric)
	if total >= e.Best.Score {
		e.Best.Score = total
		e.Best.Report = report
	}
	if float64(total)/float64(maxForRubric(rubric)) >= passThreshold {
		e.Status = StatusPass
	} else {
		e.Status = StatusFail
	}
}

// MaxScore exposes the rubric's scoring ceiling (information_density
// absent) so callers (tests, the driver's logging) can report a score as a
// fraction without re-deriving it.
func MaxScore() int { return baseMaxRubricScore }

// ScoreToJSON is a convenience for logging/serializing an evaluator's
// rubric result alongside a report when the pipeline writes results out.
func ScoreToJSON(b BestSlot) ([]byte, error) {
	return json.Marshal(struct {
		Report string `json:"report"`
		Score  int    `json:"score"`
	}{Report: b.Report, Score: b.Score})
}
