package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestWeightedTotal_ScenarioS1Passes(t *testing.T) {
	// coverage=5,accuracy=5,citation=5,style=5,prioritization=5,completeness=5, no density
	r := Rubric{Coverage: 5, Accuracy: 5, CitationQuality: 5, Style: 5, Prioritization: 5, Completeness: 5}
	total := weightedTotal(r)
	assert.Equal(t, 50, total)
	assert.GreaterOrEqual(t, float64(total)/float64(maxForRubric(r)), passThreshold)
}

func TestWeightedTotal_ScenarioS2FailsThenPasses(t *testing.T) {
	round0 := Rubric{Coverage: 2, Accuracy: 3, CitationQuality: 1, Style: 3, Prioritization: 3, Completeness: 2}
	total0 := weightedTotal(round0)
	assert.Equal(t, 22, total0)
	assert.Less(t, float64(total0)/float64(maxForRubric(round0)), passThreshold)

	round1 := Rubric{Coverage: 4, Accuracy: 4, CitationQuality: 4, Style: 4, Prioritization: 4, Completeness: 4}
	total1 := weightedTotal(round1)
	assert.Equal(t, 40, total1)
	assert.Less(t, float64(total1)/float64(maxForRubric(round1)), passThreshold)

	round2 := Rubric{Coverage: 5, Accuracy: 5, CitationQuality: 5, Style: 5, Prioritization: 5, Completeness: 5}
	total2 := weightedTotal(round2)
	assert.GreaterOrEqual(t, float64(total2)/float64(maxForRubric(round2)), passThreshold)
}

func TestWeightedTotal_InformationDensityOptionallyRaisesMax(t *testing.T) {
	withoutDensity := Rubric{Coverage: 5, Accuracy: 5, CitationQuality: 5, Style: 5, Prioritization: 5, Completeness: 5}
	assert.Equal(t, 55, maxForRubric(withoutDensity))

	withDensity := withoutDensity
	withDensity.InformationDensity = intPtr(5)
	assert.Equal(t, 65, maxForRubric(withDensity))
	assert.Equal(t, weightedTotal(withoutDensity)+5, weightedTotal(withDensity))
}

func TestEvaluator_UpdateStatus_ParseFailureIsFail(t *testing.T) {
	e := NewEvaluator("topic", "assistant-1", nil, nil)
	e.updateStatus("<cot>x</cot><note>n</note>", "report text")
	assert.Equal(t, StatusFail, e.Status)
	assert.Empty(t, e.Questions)
}

func TestEvaluator_BestSlotIsMonotonicNonDecreasing(t *testing.T) {
	e := NewEvaluator("topic", "assistant-1", nil, nil)
	content1 := `<cot>c</cot><note>n1</note><ir>{"questions":[]}</ir><eval>{"coverage":5,"accuracy":5,"citation_quality":5,"style":5,"prioritization":5,"completeness":5}</eval>`
	e.updateStatus(content1, "report-A")
	assert.Equal(t, "report-A", e.Best.Report)
	assert.Equal(t, 50, e.Best.Score)
	assert.Equal(t, StatusPass, e.Status)

	content2 := `<cot>c</cot><note>n2</note><ir>{"questions":[]}</ir><eval>{"coverage":1,"accuracy":1,"citation_quality":1,"style":1,"prioritization":1,"completeness":1}</eval>`
	e.updateStatus(content2, "report-B")
	assert.Equal(t, "report-A", e.Best.Report, "best slot must not regress to a lower-scoring later report")
	assert.Equal(t, 50, e.Best.Score)
}
