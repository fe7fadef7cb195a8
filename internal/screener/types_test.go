package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusAbandoned, true},
		{StatusActive, StatusCrisisPaused, true},
		{StatusCrisisPaused, StatusActive, true},
		{StatusCrisisPaused, StatusAbandoned, true},
		{StatusCrisisPaused, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusAbandoned, false},
		{StatusAbandoned, StatusActive, false},
		{StatusActive, StatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusAbandoned.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusCrisisPaused.Terminal())
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.True(t, RiskHigh.AtLeast(RiskHigh))
	assert.False(t, RiskMedium.AtLeast(RiskHigh))
	assert.False(t, RiskNone.AtLeast(RiskLow))
	assert.Greater(t, RiskCritical.Severity(), RiskMedium.Severity())
}

func TestParseScreenerType(t *testing.T) {
	st, err := ParseScreenerType("phq9a")
	require.NoError(t, err)
	assert.Equal(t, ScreenerPHQ9A, st)

	_, err = ParseScreenerType("phq99")
	assert.Error(t, err)
}

func TestParseSafetyResponse(t *testing.T) {
	for _, valid := range []string{"safe", "need_help", "exit"} {
		resp, err := ParseSafetyResponse(valid)
		require.NoError(t, err)
		assert.Equal(t, SafetyResponse(valid), resp)
	}

	_, err := ParseSafetyResponse("maybe")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSafetyResponse)
}

func TestConversationIsComplete(t *testing.T) {
	conv := &Conversation{ScreenerType: ScreenerAnxiety5, QuestionsCompleted: 4}
	assert.False(t, conv.IsComplete())
	conv.QuestionsCompleted = 5
	assert.True(t, conv.IsComplete())
}

func TestResponseNeedsClarification(t *testing.T) {
	low := &ScreenerResponse{Confidence: 0.4}
	assert.True(t, low.NeedsClarification())

	boundary := &ScreenerResponse{Confidence: 0.6}
	assert.False(t, boundary.NeedsClarification())

	verified := &ScreenerResponse{Confidence: 0.4, Verified: true}
	assert.False(t, verified.NeedsClarification())
}
