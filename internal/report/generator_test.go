package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_ApplyOutput_ParsesReportAndNote(t *testing.T) {
	g := NewGenerator("topic", "assistant-1", nil, nil)
	g.applyOutput(`<cot>c</cot><note>looks good</note><report>{"responses":[{"text":"The sky is blue.","citations":["seg1"]}]}</report>`)

	var got Report
	require.NoError(t, json.Unmarshal([]byte(g.Report()), &got))
	require.Len(t, got.Responses, 1)
	assert.Equal(t, "The sky is blue.", got.Responses[0].Text)
	assert.Equal(t, []string{"seg1"}, got.Responses[0].Citations)
	assert.Equal(t, "looks good", g.LatestNote())
}

func TestGenerator_ApplyOutput_FallsBackOnParseFailure(t *testing.T) {
	g := NewGenerator("topic", "assistant-1", nil, nil)
	raw := "no tags here, just raw text"
	g.applyOutput(raw)
	assert.Equal(t, raw, g.Report())
	assert.Equal(t, "report parse failed, raw content stored", g.LatestNote())
}

func TestGenerator_ApplyOutput_InvalidReportJSONKeptVerbatim(t *testing.T) {
	g := NewGenerator("topic", "assistant-1", nil, nil)
	g.applyOutput(`<note>n</note><report>not valid json</report>`)
	assert.Equal(t, "not valid json", g.Report())
	assert.Equal(t, "n", g.LatestNote())
}

func TestGenerator_SerializeNotes_FirstRoundPlaceholder(t *testing.T) {
	g := NewGenerator("topic", "assistant-1", nil, nil)
	g.myNotes = append(g.myNotes, "")
	out := g.serializeNotes(true)
	assert.Contains(t, out, "First round no note yet or trouble parsing eval note")
}

func TestClampReport_TrimsCitationsOverFour(t *testing.T) {
	r := Report{Responses: []ReportItem{
		{Text: "one two three", Citations: []string{"a", "b", "c", "d", "e"}},
	}}
	out := clampReport(r)
	require.Len(t, out.Responses, 1)
	assert.Len(t, out.Responses[0].Citations, maxCitationsPerText)
	assert.Equal(t, []string{"a", "b", "c", "d"}, out.Responses[0].Citations)
}

func TestClampReport_TruncatesTotalWordsOver250(t *testing.T) {
	words := make([]string, 300)
	for i := range words {
		words[i] = "word"
	}
	r := Report{Responses: []ReportItem{
		{Text: strings.Join(words, " "), Citations: nil},
	}}
	out := clampReport(r)
	require.Len(t, out.Responses, 1)
	assert.Len(t, strings.Fields(out.Responses[0].Text), maxReportWords)
}

func TestClampReport_DropsItemsPastWordBudget(t *testing.T) {
	words := make([]string, 250)
	for i := range words {
		words[i] = "word"
	}
	r := Report{Responses: []ReportItem{
		{Text: strings.Join(words, " ")},
		{Text: "this block should be dropped entirely"},
	}}
	out := clampReport(r)
	assert.Len(t, out.Responses, 1)
}
