package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimline/internal/agents"
	"claimline/internal/domain"
)

// scriptedInvoker returns queued responses per agent kind.
type scriptedInvoker struct {
	responses map[domain.AgentKind][]string
	errs      map[domain.AgentKind]error
	calls     map[domain.AgentKind]int
}

func newScripted() *scriptedInvoker {
	return &scriptedInvoker{
		responses: map[domain.AgentKind][]string{},
		errs:      map[domain.AgentKind]error{},
		calls:     map[domain.AgentKind]int{},
	}
}

func (s *scriptedInvoker) Invoke(_ context.Context, req agents.Request) (*agents.Completion, error) {
	s.calls[req.Agent]++
	if err := s.errs[req.Agent]; err != nil {
		return nil, err
	}
	queue := s.responses[req.Agent]
	if len(queue) == 0 {
		return nil, errors.New("no scripted response")
	}
	text := queue[0]
	if len(queue) > 1 {
		s.responses[req.Agent] = queue[1:]
	}
	return &agents.Completion{Text: text, Model: "test-model"}, nil
}

const passVerdict = `{"verdict":"pass","scores":{"accuracy":9,"completeness":8,"relevance":9,"consistency":9,"compliance":8,"actionability":9},"rationale":"solid"}`
const reviseVerdict = `{"verdict":"revise","scores":{"accuracy":5,"completeness":4,"relevance":6,"consistency":5,"compliance":5,"actionability":4},"flags":["missing detail"],"rationale":"thin"}`
const confirmMeta = `{"meta_verdict":"confirm","rationale":"agreed"}`

func testInput() Input {
	return Input{
		Agent:          domain.AgentFrontDesk,
		ClaimID:        "claim-1",
		ProducerInput:  "claim data",
		ProducerOutput: `{"claim_summary":"ok"}`,
	}
}

func TestPassOnFirstRound(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{passVerdict}
	inv.responses[domain.AgentMetaJudge] = []string{confirmMeta}

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 2}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.True(t, accepted)
	require.Len(t, report.Rounds, 1)
	assert.Equal(t, domain.VerdictPass, report.Rounds[0].Verdict)
	assert.Equal(t, domain.VerdictPass, report.Rounds[0].EffectiveVerdict)
	assert.Equal(t, 9.0, report.Rounds[0].Scores.Accuracy)
	require.NotNil(t, report.Rounds[0].Meta)
	assert.Equal(t, "confirm", report.Rounds[0].Meta.MetaVerdict)
}

func TestReviseThenPass(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{reviseVerdict, passVerdict}
	inv.responses[domain.AgentMetaJudge] = []string{confirmMeta}

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 2}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.True(t, accepted)
	require.Len(t, report.Rounds, 2)
	assert.Equal(t, domain.VerdictRevise, report.Rounds[0].Verdict)
	assert.Equal(t, domain.VerdictPass, report.Rounds[1].Verdict)
}

func TestTerminatesAfterMaxRounds(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{reviseVerdict}
	inv.responses[domain.AgentMetaJudge] = []string{confirmMeta}

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 2}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.False(t, accepted)
	assert.Len(t, report.Rounds, 3) // rounds 1..R+1
	assert.Equal(t, 3, inv.calls[domain.AgentJudge])
}

func TestJudgeFailureDegradesToSyntheticPass(t *testing.T) {
	inv := newScripted()
	inv.errs[domain.AgentJudge] = errors.New("completion service down")

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 2}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.True(t, accepted)
	require.Len(t, report.Rounds, 1)
	round := report.Rounds[0]
	assert.Equal(t, domain.VerdictPass, round.Verdict)
	assert.True(t, round.LowConfidence)
	assert.Contains(t, round.Flags, "judge_unavailable")
	assert.Equal(t, 5.0, round.Scores.Accuracy)
	// Meta-judge is skipped when the judge itself was substituted.
	assert.Zero(t, inv.calls[domain.AgentMetaJudge])
}

func TestJudgeGarbageOutputDegrades(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{"I think it looks fine overall"}

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 1}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.True(t, accepted)
	assert.True(t, report.Rounds[0].LowConfidence)
}

func TestMetaJudgeOverride(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{passVerdict}
	inv.responses[domain.AgentMetaJudge] = []string{`{"meta_verdict":"override","override_verdict":"fail","rationale":"judge missed a policy exclusion"}`}

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 0}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.False(t, accepted)
	require.Len(t, report.Rounds, 1)
	assert.Equal(t, domain.VerdictPass, report.Rounds[0].Verdict)
	assert.Equal(t, domain.VerdictFail, report.Rounds[0].EffectiveVerdict)
}

func TestMetaJudgeFailureIsSilent(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{passVerdict}
	inv.errs[domain.AgentMetaJudge] = errors.New("meta judge down")

	loop := &Loop{Invoker: inv, MaxRevisionRounds: 1}
	report, accepted := loop.Judge(context.Background(), testInput(), nil)

	assert.True(t, accepted)
	assert.Nil(t, report.Rounds[0].Meta)
	assert.Equal(t, domain.VerdictPass, report.Rounds[0].EffectiveVerdict)
}

func TestEmitterReceivesRoundEvents(t *testing.T) {
	inv := newScripted()
	inv.responses[domain.AgentJudge] = []string{reviseVerdict, passVerdict}
	inv.responses[domain.AgentMetaJudge] = []string{confirmMeta}

	var events []map[string]any
	emit := func(_ context.Context, eventType string, payload map[string]any) {
		assert.Equal(t, "judge.round", eventType)
		events = append(events, payload)
	}
	loop := &Loop{Invoker: inv, MaxRevisionRounds: 2}
	_, accepted := loop.Judge(context.Background(), testInput(), emit)

	assert.True(t, accepted)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0]["round"])
	assert.Equal(t, 2, events[1]["round"])
}
