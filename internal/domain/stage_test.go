package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := [][2]Stage{
		{StageFNOLSubmitted, StageFrontdeskDone},
		{StageFrontdeskDone, StageCoverageDone},
		{StageCoverageDone, StageAssessmentDone},
		{StageAssessmentDone, StageFraudDone},
		{StageFraudDone, StagePendingReview},
		{StagePendingReview, StageFinalDecisionDone},
		{StageFinalDecisionDone, StagePaid},
		{StageFinalDecisionDone, StageClosedNoPay},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Errorf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]Stage{
		{StageFNOLSubmitted, StageCoverageDone},
		{StageFrontdeskDone, StageFNOLSubmitted},
		{StagePaid, StageClosedNoPay},
		{StagePendingReview, StagePaid},
		{StageFraudDone, StageFinalDecisionDone},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Errorf("expected %s -> %s to be denied", pair[0], pair[1])
		}
	}
}

func TestEnsureTransition(t *testing.T) {
	if err := EnsureTransition(StageFNOLSubmitted, StageFrontdeskDone); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := EnsureTransition(StageFNOLSubmitted, "SETTLED"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if err := EnsureTransition(StagePaid, StageFNOLSubmitted); err == nil {
		t.Fatal("expected error for transition out of terminal stage")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Stage{StagePaid, StageClosedNoPay} {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Stage{StageFNOLSubmitted, StagePendingReview, StageFinalDecisionDone} {
		if Terminal(s) {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
	if Terminal("SETTLED") {
		t.Error("unknown stage must not be terminal")
	}
}

func TestValidAgent(t *testing.T) {
	for _, k := range []AgentKind{AgentFrontDesk, AgentCoverage, AgentAssessment, AgentFraud, AgentFinalDecision, AgentPayment, AgentVision, AgentJudge, AgentMetaJudge} {
		if !ValidAgent(k) {
			t.Errorf("expected %s to be valid", k)
		}
	}
	if ValidAgent("underwriter") {
		t.Error("unknown agent kind must be invalid")
	}
}
