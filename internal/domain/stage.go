package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition marks a stage write that is not an edge of the
// workflow graph.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Stage is one named point in the claim's fixed workflow graph.
type Stage string

const (
	StageFNOLSubmitted     Stage = "FNOL_SUBMITTED"
	StageFrontdeskDone     Stage = "FRONTDESK_DONE"
	StageCoverageDone      Stage = "COVERAGE_DONE"
	StageAssessmentDone    Stage = "ASSESSMENT_DONE"
	StageFraudDone         Stage = "FRAUD_DONE"
	StagePendingReview     Stage = "PENDING_REVIEW"
	StageFinalDecisionDone Stage = "FINAL_DECISION_DONE"
	StagePaid              Stage = "PAID"
	StageClosedNoPay       Stage = "CLOSED_NO_PAY"
)

// stageEdges is the static transition graph. Terminal stages have no
// outgoing edges.
var stageEdges = map[Stage][]Stage{
	StageFNOLSubmitted:     {StageFrontdeskDone},
	StageFrontdeskDone:     {StageCoverageDone},
	StageCoverageDone:      {StageAssessmentDone},
	StageAssessmentDone:    {StageFraudDone},
	StageFraudDone:         {StagePendingReview},
	StagePendingReview:     {StageFinalDecisionDone},
	StageFinalDecisionDone: {StagePaid, StageClosedNoPay},
	StagePaid:              nil,
	StageClosedNoPay:       nil,
}

// ValidStage reports whether s names a known stage.
func ValidStage(s Stage) bool {
	_, ok := stageEdges[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func Terminal(s Stage) bool {
	edges, ok := stageEdges[s]
	return ok && len(edges) == 0
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Stage) bool {
	for _, next := range stageEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureTransition returns an error unless from -> to is a legal edge.
func EnsureTransition(from, to Stage) error {
	if !ValidStage(from) {
		return fmt.Errorf("%w: unknown stage %s", ErrInvalidTransition, from)
	}
	if !ValidStage(to) {
		return fmt.Errorf("%w: unknown stage %s", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// AgentKind is the closed set of agents the orchestrator can dispatch.
type AgentKind string

const (
	AgentFrontDesk     AgentKind = "front_desk"
	AgentCoverage      AgentKind = "coverage"
	AgentAssessment    AgentKind = "assessment"
	AgentFraud         AgentKind = "fraud"
	AgentFinalDecision AgentKind = "final_decision"
	AgentPayment       AgentKind = "payment"
	AgentVision        AgentKind = "vision"
	AgentJudge         AgentKind = "judge"
	AgentMetaJudge     AgentKind = "meta_judge"
)

// ValidAgent reports whether k names a known agent kind.
func ValidAgent(k AgentKind) bool {
	switch k {
	case AgentFrontDesk, AgentCoverage, AgentAssessment, AgentFraud,
		AgentFinalDecision, AgentPayment, AgentVision, AgentJudge, AgentMetaJudge:
		return true
	}
	return false
}
