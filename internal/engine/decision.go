package engine

import (
	"context"
	"fmt"
	"time"

	"claimline/internal/compliance"
	"claimline/internal/domain"
)

// SubmitDecision records the human reviewer's accept/deny call and runs
// the final-decision step, moving the claim from PENDING_REVIEW to
// FINAL_DECISION_DONE. Approval starts the payment clock.
func (e Engine) SubmitDecision(ctx context.Context, d domain.ReviewerDecision, actorID string) (domain.Claim, error) {
	c, err := e.Store.GetClaim(ctx, d.ClaimID)
	if err != nil {
		return domain.Claim{}, err
	}
	if c.Stage != domain.StagePendingReview {
		return c, fmt.Errorf("%w: claim %s is at %s, not %s", ErrStageConflict, c.ID, c.Stage, domain.StagePendingReview)
	}
	if d.ReviewerID == "" {
		return c, fmt.Errorf("%w: reviewer id is required", ErrInvalidInput)
	}
	now := e.now().UTC()
	d.DecidedAt = now.Format(time.RFC3339)
	if err := e.Store.PutDecision(ctx, d); err != nil {
		return c, fmt.Errorf("store decision: %w", err)
	}
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, domain.EventDecisionRecorded, map[string]any{
		"approved":        d.Approved,
		"approved_amount": d.ApprovedAmount,
		"reviewer_id":     d.ReviewerID,
	}); err != nil {
		return c, err
	}
	if d.Approved {
		c.Compliance.PaymentDueAt = compliance.PaymentDeadline(now).Format(time.RFC3339)
		c.UpdatedAt = d.DecidedAt
		if err := e.Store.UpdateClaim(ctx, c); err != nil {
			return c, fmt.Errorf("update claim compliance: %w", err)
		}
	}

	step := stageStep{agent: domain.AgentFinalDecision, from: domain.StagePendingReview, to: domain.StageFinalDecisionDone}
	if _, err := e.runStep(ctx, &c, step, actorID, map[string]any{"reviewer_decision": d}); err != nil {
		return c, err
	}
	return c, nil
}

// RunFinanceStage executes exactly one payment step for a decided claim,
// closing it as PAID or CLOSED_NO_PAY according to the stored decision.
func (e Engine) RunFinanceStage(ctx context.Context, claimID, actorID string) (PipelineResult, error) {
	c, err := e.Store.GetClaim(ctx, claimID)
	if err != nil {
		return PipelineResult{}, err
	}
	res := PipelineResult{ClaimID: claimID, StartStage: c.Stage, EndStage: c.Stage}
	if c.Stage != domain.StageFinalDecisionDone {
		return res, fmt.Errorf("%w: claim %s is at %s, not %s", ErrStageConflict, c.ID, c.Stage, domain.StageFinalDecisionDone)
	}
	d, err := e.Store.GetDecision(ctx, claimID)
	if err != nil {
		return res, fmt.Errorf("load reviewer decision: %w", err)
	}
	target := domain.StageClosedNoPay
	if d.Approved {
		target = domain.StagePaid
	}
	step := stageStep{agent: domain.AgentPayment, from: domain.StageFinalDecisionDone, to: target}
	run, err := e.runStep(ctx, &c, step, actorID, map[string]any{"reviewer_decision": d})
	if run.ID != "" {
		res.RunIDs = append(res.RunIDs, run.ID)
	}
	res.EndStage = c.Stage
	if err != nil {
		res.Halted = true
		res.HaltReason = run.ErrorType
		return res, err
	}
	return res, nil
}
