package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json language tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence with inline payload", "```{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
		{"no fence prose", "no json here", "no json here"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StripCodeFences(tc.in), tc.name)
	}
}

func TestParseAgentJSON(t *testing.T) {
	out, err := ParseAgentJSON("```json\n{\"severity\":\"moderate\",\"estimated_repair_cost\":3400.5}\n```")
	require.NoError(t, err)
	assert.Equal(t, "moderate", out["severity"])
	assert.Equal(t, 3400.5, out["estimated_repair_cost"])

	_, err = ParseAgentJSON("The damage looks moderate to me.")
	assert.Error(t, err)

	_, err = ParseAgentJSON(`["not","an","object"]`)
	assert.Error(t, err)
}
