package agents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimline/internal/domain"
)

func TestBuildPromptIsDeterministic(t *testing.T) {
	pc := PromptContext{
		Claim: ClaimView{
			ID:           "clm-1",
			PolicyNumber: "POL-2201",
			ClaimantName: "Jane Fraser",
			DateOfLoss:   "2026-02-27",
			Description:  "rear-end collision at low speed",
		},
		PriorOutputs: map[string]map[string]any{
			"front_desk": {"priority": "normal"},
			"coverage":   {"covered": true},
			"assessment": {"severity": "moderate"},
		},
		Extra: map[string]any{
			"photo_analysis":    VisionUnavailableNote,
			"reviewer_decision": map[string]any{"decision": "approve"},
		},
	}

	_, first, err := BuildPrompt(domain.AgentFraud, pc)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, again, err := BuildPrompt(domain.AgentFraud, pc)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	// Sections come out in sorted key order.
	assert.Less(t, strings.Index(first, "Accepted assessment output"), strings.Index(first, "Accepted coverage output"))
	assert.Less(t, strings.Index(first, "Accepted coverage output"), strings.Index(first, "Accepted front_desk output"))
	assert.Less(t, strings.Index(first, "photo_analysis:"), strings.Index(first, "reviewer_decision:"))
}
