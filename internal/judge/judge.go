// Package judge runs the quality-control loop over accepted agent
// outputs. A producer is never blocked by judge infrastructure failure:
// any judge-side error degrades to a synthetic low-confidence pass.
package judge

import (
	"context"

	"claimline/internal/agents"
	"claimline/internal/domain"
)

// neutralScore fills the vector when the judge could not be consulted.
const neutralScore = 5.0

// Emitter receives judge.round sub-events when a run context is
// supplied. May be nil.
type Emitter func(ctx context.Context, eventType string, payload map[string]any)

// Loop drives up to MaxRevisionRounds+1 judge/meta-judge rounds.
type Loop struct {
	Invoker           agents.Invoker
	MaxRevisionRounds int
}

// Input identifies the producer output under judgment.
type Input struct {
	Agent          domain.AgentKind
	ClaimID        string
	ProducerInput  string
	ProducerOutput string
}

// Judge evaluates the producer output for rounds 1..R+1, stopping early
// on an effective pass. The producer output is re-judged as-is between
// rounds; no regeneration happens here.
func (l *Loop) Judge(ctx context.Context, in Input, emit Emitter) (domain.JudgeReport, bool) {
	report := domain.JudgeReport{
		Agent:   in.Agent,
		ClaimID: in.ClaimID,
	}
	maxRounds := l.MaxRevisionRounds + 1
	if maxRounds < 1 {
		maxRounds = 1
	}
	for round := 1; round <= maxRounds; round++ {
		r := l.runRound(ctx, in, round)
		report.Rounds = append(report.Rounds, r)
		if emit != nil {
			emit(ctx, "judge.round", map[string]any{
				"round":             r.Round,
				"verdict":           r.Verdict,
				"effective_verdict": r.EffectiveVerdict,
				"low_confidence":    r.LowConfidence,
			})
		}
		if r.EffectiveVerdict == domain.VerdictPass {
			break
		}
	}
	final := report.Rounds[len(report.Rounds)-1]
	report.Accepted = final.EffectiveVerdict == domain.VerdictPass
	return report, report.Accepted
}

func (l *Loop) runRound(ctx context.Context, in Input, round int) domain.JudgeRound {
	r := l.judgeOnce(ctx, in, round)

	meta := l.metaJudgeOnce(ctx, in, r)
	r.Meta = meta

	r.EffectiveVerdict = r.Verdict
	if meta != nil && meta.MetaVerdict == "override" && validVerdict(meta.OverrideVerdict) {
		r.EffectiveVerdict = meta.OverrideVerdict
	}
	return r
}

// judgeOnce invokes the judge agent. Invocation or parse failure yields
// the synthetic pass round rather than an error.
func (l *Loop) judgeOnce(ctx context.Context, in Input, round int) domain.JudgeRound {
	system, user := agents.BuildJudgePrompt(in.Agent, in.ProducerInput, in.ProducerOutput)
	comp, err := l.Invoker.Invoke(ctx, agents.Request{
		Agent:  domain.AgentJudge,
		System: system,
		User:   user,
	})
	if err != nil {
		return syntheticPass(round, "judge invocation failed: "+err.Error())
	}
	parsed, err := agents.ParseAgentJSON(comp.Text)
	if err != nil {
		return syntheticPass(round, "judge output unparsable: "+err.Error())
	}
	verdict := domain.Verdict(asString(parsed["verdict"]))
	if !validVerdict(verdict) {
		return syntheticPass(round, "judge verdict missing or unknown")
	}
	return domain.JudgeRound{
		Round:       round,
		Verdict:     verdict,
		Scores:      parseScores(parsed["scores"]),
		Flags:       asStrings(parsed["flags"]),
		Rationale:   asString(parsed["rationale"]),
		JudgeOutput: parsed,
	}
}

// metaJudgeOnce audits the judge verdict. Failure is silently
// non-blocking: the round proceeds unaudited.
func (l *Loop) metaJudgeOnce(ctx context.Context, in Input, r domain.JudgeRound) *domain.MetaAudit {
	if r.LowConfidence {
		// Nothing to audit when the judge itself was substituted.
		return nil
	}
	judgeJSON := asString(r.Rationale)
	if r.JudgeOutput != nil {
		judgeJSON = jsonString(r.JudgeOutput)
	}
	system, user := agents.BuildMetaJudgePrompt(in.Agent, in.ProducerOutput, judgeJSON)
	comp, err := l.Invoker.Invoke(ctx, agents.Request{
		Agent:  domain.AgentMetaJudge,
		System: system,
		User:   user,
	})
	if err != nil {
		return nil
	}
	parsed, err := agents.ParseAgentJSON(comp.Text)
	if err != nil {
		return nil
	}
	meta := &domain.MetaAudit{
		MetaVerdict: asString(parsed["meta_verdict"]),
		Rationale:   asString(parsed["rationale"]),
	}
	if ov := domain.Verdict(asString(parsed["override_verdict"])); validVerdict(ov) {
		meta.OverrideVerdict = ov
	}
	if meta.MetaVerdict == "" {
		return nil
	}
	return meta
}

func syntheticPass(round int, reason string) domain.JudgeRound {
	return domain.JudgeRound{
		Round:   round,
		Verdict: domain.VerdictPass,
		Scores: domain.Scores{
			Accuracy:      neutralScore,
			Completeness:  neutralScore,
			Relevance:     neutralScore,
			Consistency:   neutralScore,
			Compliance:    neutralScore,
			Actionability: neutralScore,
		},
		Flags:         []string{"judge_unavailable"},
		Rationale:     reason,
		LowConfidence: true,
	}
}

func validVerdict(v domain.Verdict) bool {
	switch v {
	case domain.VerdictPass, domain.VerdictRevise, domain.VerdictFail:
		return true
	}
	return false
}

func parseScores(v any) domain.Scores {
	m, _ := v.(map[string]any)
	return domain.Scores{
		Accuracy:      asFloat(m["accuracy"]),
		Completeness:  asFloat(m["completeness"]),
		Relevance:     asFloat(m["relevance"]),
		Consistency:   asFloat(m["consistency"]),
		Compliance:    asFloat(m["compliance"]),
		Actionability: asFloat(m["actionability"]),
	}
}
