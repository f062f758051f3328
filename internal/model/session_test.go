package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionLegalEdges(t *testing.T) {
	assert.True(t, CanTransition(StatusPlanning, StatusSearching))
	assert.True(t, CanTransition(StatusSearching, StatusAnalyzing))
	assert.True(t, CanTransition(StatusAnalyzing, StatusValidating))
	assert.True(t, CanTransition(StatusValidating, StatusSearching))
	assert.True(t, CanTransition(StatusValidating, StatusComplete))
}

func TestCanTransitionCancelledReachableFromAnyNonTerminal(t *testing.T) {
	for _, s := range []SessionStatus{StatusPlanning, StatusSearching, StatusAnalyzing, StatusValidating} {
		assert.True(t, CanTransition(s, StatusCancelled), "expected %s -> cancelled to be legal", s)
	}
}

func TestCanTransitionRejectsIllegalEdges(t *testing.T) {
	assert.False(t, CanTransition(StatusPlanning, StatusValidating))
	assert.False(t, CanTransition(StatusPlanning, StatusComplete))
	assert.False(t, CanTransition(StatusAnalyzing, StatusSearching))
}

func TestCanTransitionTerminalStatesAreSinks(t *testing.T) {
	for _, terminal := range []SessionStatus{StatusComplete, StatusError, StatusCancelled} {
		for _, to := range []SessionStatus{StatusPlanning, StatusSearching, StatusAnalyzing, StatusValidating, StatusComplete, StatusError, StatusCancelled} {
			assert.False(t, CanTransition(terminal, to), "expected terminal state %s to accept no transitions", terminal)
		}
	}
}

func TestResumableMatchesNonTerminalStates(t *testing.T) {
	for s := range Resumable {
		assert.False(t, s.Terminal())
	}
	for _, s := range []SessionStatus{StatusPlanning, StatusSearching, StatusAnalyzing, StatusValidating} {
		assert.True(t, Resumable[s])
	}
}

func TestDepthProfilesMatchSpec(t *testing.T) {
	cases := []struct {
		depth            Depth
		maxHops          int
		confidenceTarget float64
	}{
		{DepthQuick, 1, 0.60},
		{DepthStandard, 3, 0.75},
		{DepthDeep, 5, 0.85},
		{DepthExhaustive, 8, 0.90},
	}
	for _, tc := range cases {
		p := DepthProfiles[tc.depth]
		assert.Equal(t, tc.maxHops, p.MaxHops, "depth %s", tc.depth)
		assert.InDelta(t, tc.confidenceTarget, p.ConfidenceTarget, 1e-9, "depth %s", tc.depth)
	}
}

func TestSessionConfidenceTargetLooksUpDepthProfile(t *testing.T) {
	s := Session{Depth: DepthDeep}
	assert.InDelta(t, 0.85, s.ConfidenceTarget(), 1e-9)
}
