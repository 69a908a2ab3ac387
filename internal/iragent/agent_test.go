package iragent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent() *Agent {
	return New(`[{"question":"q1","context":"c1"}]`, nil, nil, nil)
}

func TestUpdateStatus_EmptyAnswerIsNoAnswer(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = ""
	a.updateStatus()
	assert.Equal(t, NoAnswer, a.Status)
}

func TestUpdateStatus_MalformedJSONIsPartial(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = "not json"
	a.updateStatus()
	assert.Equal(t, Partial, a.Status)
}

func TestUpdateStatus_AllQuestionsFinishedIsFinished(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = `{"questions":[{"question":"q1","finished":true}],"rounds":[]}`
	a.updateStatus()
	assert.Equal(t, Finished, a.Status)
}

func TestUpdateStatus_MixOfFinishedAndRemainingIsPartial(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = `{"questions":[{"question":"q1","finished":true},{"question":"q2","finished":false}],"rounds":[]}`
	a.updateStatus()
	assert.Equal(t, Partial, a.Status)

	var remaining updatePayload
	assert.NoError(t, json.Unmarshal([]byte(a.fullAnswer), &remaining))
	assert.Len(t, remaining.Questions, 1)
	assert.Equal(t, "q2", remaining.Questions[0].Question)

	require.Len(t, a.FinishedQuestions(), 1)
	assert.Equal(t, "q1", a.FinishedQuestions()[0].Question)
}

func TestUpdateStatus_FinishedQuestionsAccumulateAcrossRounds(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = `{"questions":[{"question":"q1","finished":true},{"question":"q2","finished":false}],"rounds":[]}`
	a.updateStatus()

	a.fullAnswer = `{"questions":[{"question":"q2","finished":true}],"rounds":[]}`
	a.updateStatus()

	require.Len(t, a.FinishedQuestions(), 2)
	assert.Equal(t, "q1", a.FinishedQuestions()[0].Question)
	assert.Equal(t, "q2", a.FinishedQuestions()[1].Question)
	assert.Equal(t, Finished, a.Status)
}

func TestUpdateStatus_NoneFinishedStaysNoAnswer(t *testing.T) {
	a := newTestAgent()
	a.fullAnswer = `{"questions":[{"question":"q1","finished":false}],"rounds":[]}`
	a.updateStatus()
	assert.Equal(t, NoAnswer, a.Status)
}

func TestResetLogicalThread_ClearsHistoryAndPrevID(t *testing.T) {
	a := newTestAgent()
	a.record("user", "hello")
	a.prevID = "resp-123"
	assert.NoError(t, a.ResetLogicalThread(nil))
	assert.Empty(t, a.history)
	assert.Empty(t, a.prevID)
}

