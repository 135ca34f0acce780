package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"claimline/internal/agents"
	"claimline/internal/domain"
	"claimline/internal/judge"
	"claimline/internal/schema"
)

// Run error types, recorded on the run and in STAGE_ERROR ledger data.
const (
	ErrTypeUpstream      = "UPSTREAM_ERROR"
	ErrTypeInvalidOutput = "INVALID_OUTPUT"
	ErrTypeSchema        = "SCHEMA_VALIDATION_FAILED"
)

// stageStep is one automated pipeline step: which agent runs and which
// transition its accepted output triggers.
type stageStep struct {
	agent domain.AgentKind
	from  domain.Stage
	to    domain.Stage
}

// pipelineSteps is the automated portion of the workflow, in order.
// Final decision and payment run outside RunPipeline because they are
// gated by the human decision.
var pipelineSteps = []stageStep{
	{agent: domain.AgentFrontDesk, from: domain.StageFNOLSubmitted, to: domain.StageFrontdeskDone},
	{agent: domain.AgentCoverage, from: domain.StageFrontdeskDone, to: domain.StageCoverageDone},
	{agent: domain.AgentAssessment, from: domain.StageCoverageDone, to: domain.StageAssessmentDone},
	{agent: domain.AgentFraud, from: domain.StageAssessmentDone, to: domain.StageFraudDone},
}

// PipelineResult summarizes one pipeline pass.
type PipelineResult struct {
	ClaimID    string       `json:"claim_id"`
	StartStage domain.Stage `json:"start_stage"`
	EndStage   domain.Stage `json:"end_stage"`
	RunIDs     []string     `json:"run_ids,omitempty"`
	Halted     bool         `json:"halted"`
	HaltReason string       `json:"halt_reason,omitempty"`
}

// RunPipeline advances the claim through every automated step whose
// precondition matches its current stage, then parks it at
// PENDING_REVIEW. A fatal step error halts the pass; the claim stays at
// its last completed stage and a later invocation retries from there.
func (e Engine) RunPipeline(ctx context.Context, claimID, actorID string) (PipelineResult, error) {
	c, err := e.Store.GetClaim(ctx, claimID)
	if err != nil {
		return PipelineResult{}, err
	}
	res := PipelineResult{ClaimID: claimID, StartStage: c.Stage, EndStage: c.Stage}

	for _, step := range pipelineSteps {
		if c.Stage != step.from {
			continue
		}
		run, err := e.runStep(ctx, &c, step, actorID, nil)
		if run.ID != "" {
			res.RunIDs = append(res.RunIDs, run.ID)
		}
		if err != nil {
			res.EndStage = c.Stage
			res.Halted = true
			res.HaltReason = run.ErrorType
			return res, err
		}
		res.EndStage = c.Stage
	}

	if c.Stage == domain.StageFraudDone {
		if err := e.advance(ctx, &c, domain.StagePendingReview, domain.EventStageCompleted, map[string]any{
			"awaiting": "human_review",
		}); err != nil {
			return res, err
		}
		res.EndStage = c.Stage
	}
	return res, nil
}

// runStep executes a single agent step end to end: run record, ledger
// entries, vision pre-step, invocation, parsing, schema validation, the
// stage transition and judging. extra is merged into the prompt
// context (reviewer decision for the decision and payment steps).
func (e Engine) runStep(ctx context.Context, c *domain.Claim, step stageStep, actorID string, extra map[string]any) (domain.Run, error) {
	prior, err := e.priorOutputs(ctx, c.ID)
	if err != nil {
		return domain.Run{}, err
	}
	pc := agents.PromptContext{
		Claim:        e.View(*c),
		PriorOutputs: prior,
		Extra:        map[string]any{},
	}
	for k, v := range extra {
		pc.Extra[k] = v
	}

	run := domain.Run{
		ID:        uuid.New().String(),
		ClaimID:   c.ID,
		Stage:     c.Stage,
		Agent:     step.agent,
		Status:    domain.RunRunning,
		ActorID:   actorID,
		TraceID:   uuid.New().String(),
		StartedAt: e.now().UTC().Format(time.RFC3339Nano),
	}
	emitter := &runEmitter{store: e.Store, runID: run.ID, now: e.now}

	if step.agent == domain.AgentAssessment && len(c.PhotoKeys) > 0 {
		pc.Extra["photo_analysis"] = e.visionAnalysis(ctx, pc, emitter)
	}

	system, user, err := agents.BuildPrompt(step.agent, pc)
	if err != nil {
		return run, err
	}
	run.Prompt = system + "\n\n" + user
	if err := e.Store.PutRun(ctx, run); err != nil {
		return run, fmt.Errorf("store run: %w", err)
	}
	emitter.emit(ctx, "run.started", map[string]any{"agent": string(step.agent), "stage": string(c.Stage)})
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, domain.EventStageStarted, map[string]any{
		"agent":  string(step.agent),
		"run_id": run.ID,
	}); err != nil {
		return run, err
	}

	comp, err := e.Invoker.Invoke(ctx, agents.Request{
		Agent:   step.agent,
		System:  system,
		User:    user,
		Options: e.agentOptions(),
	})
	if err != nil {
		return e.failStep(ctx, c, run, emitter, ErrTypeUpstream, err)
	}
	run.Output = comp.Text
	run.Model = comp.Model
	usage := comp.Usage
	run.Usage = &usage
	emitter.emit(ctx, "agent.completed", map[string]any{"model": comp.Model})

	parsed, err := agents.ParseAgentJSON(comp.Text)
	if err != nil {
		return e.failStep(ctx, c, run, emitter, ErrTypeInvalidOutput, err)
	}
	if key, ok := schema.KeyForAgent(step.agent); ok {
		if err := e.Validator.Validate(key, any(parsed)); err != nil {
			return e.failSchema(ctx, c, run, emitter, err)
		}
	}

	run.Status = domain.RunSucceeded
	run.FinishedAt = e.now().UTC().Format(time.RFC3339Nano)
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("update run: %w", err)
	}
	if err := e.advance(ctx, c, step.to, domain.EventStageCompleted, map[string]any{
		"agent":  string(step.agent),
		"run_id": run.ID,
		"output": parsed,
	}); err != nil {
		return run, err
	}

	// Judging happens after acceptance and never rolls the transition
	// back; the report is attached to the run for the reviewer.
	loop := &judge.Loop{Invoker: e.Invoker, MaxRevisionRounds: e.maxRevisionRounds()}
	report, accepted := loop.Judge(ctx, judge.Input{
		Agent:          step.agent,
		ClaimID:        c.ID,
		ProducerInput:  user,
		ProducerOutput: compactJSON(parsed),
	}, emitter.emit)
	run.JudgeReport = &report
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("update run: %w", err)
	}
	judgeEvent := domain.EventJudgeCompleted
	if !accepted {
		judgeEvent = domain.EventJudgeFailed
	}
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, judgeEvent, map[string]any{
		"agent":          string(step.agent),
		"run_id":         run.ID,
		"rounds":         len(report.Rounds),
		"accepted":       accepted,
		"low_confidence": lastRoundLowConfidence(report),
	}); err != nil {
		return run, err
	}
	emitter.emit(ctx, "run.finished", map[string]any{"status": string(run.Status), "stage": string(c.Stage)})
	return run, nil
}

// advance moves the claim along one edge and records it in the ledger.
func (e Engine) advance(ctx context.Context, c *domain.Claim, to domain.Stage, evType domain.EventType, data map[string]any) error {
	if err := domain.EnsureTransition(c.Stage, to); err != nil {
		return err
	}
	updatedAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Store.UpdateClaimStage(ctx, c.ID, to, updatedAt); err != nil {
		return fmt.Errorf("update claim stage: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["from"] = string(c.Stage)
	c.Stage = to
	c.UpdatedAt = updatedAt
	if _, err := e.Ledger.Append(ctx, c.ID, to, evType, data); err != nil {
		return err
	}
	return nil
}

// failStep records a fatal step failure on the run and in the ledger.
// The claim's stage is left untouched.
func (e Engine) failStep(ctx context.Context, c *domain.Claim, run domain.Run, emitter *runEmitter, errType string, cause error) (domain.Run, error) {
	run.Status = domain.RunFailed
	run.ErrorType = errType
	run.ErrorDetail = cause.Error()
	run.FinishedAt = e.now().UTC().Format(time.RFC3339Nano)
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		return run, errors.Join(cause, err)
	}
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, domain.EventStageError, map[string]any{
		"agent":      string(run.Agent),
		"run_id":     run.ID,
		"error_type": errType,
		"detail":     run.ErrorDetail,
	}); err != nil {
		return run, errors.Join(cause, err)
	}
	emitter.emit(ctx, "run.finished", map[string]any{"status": string(run.Status), "error_type": errType})
	return run, &StepError{Type: errType, Err: cause}
}

// failSchema is failStep with the dedicated SCHEMA_VALIDATION_FAILED
// ledger entry type.
func (e Engine) failSchema(ctx context.Context, c *domain.Claim, run domain.Run, emitter *runEmitter, cause error) (domain.Run, error) {
	run.Status = domain.RunFailed
	run.ErrorType = ErrTypeSchema
	run.ErrorDetail = cause.Error()
	run.FinishedAt = e.now().UTC().Format(time.RFC3339Nano)
	if err := e.Store.UpdateRun(ctx, run); err != nil {
		return run, errors.Join(cause, err)
	}
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, domain.EventSchemaViolation, map[string]any{
		"agent":  string(run.Agent),
		"run_id": run.ID,
		"detail": run.ErrorDetail,
	}); err != nil {
		return run, errors.Join(cause, err)
	}
	emitter.emit(ctx, "run.finished", map[string]any{"status": string(run.Status), "error_type": ErrTypeSchema})
	return run, &StepError{Type: ErrTypeSchema, Err: cause}
}

// visionAnalysis runs the auxiliary photo analysis. Any failure degrades
// to the text-only placeholder; the assessment step proceeds either way.
func (e Engine) visionAnalysis(ctx context.Context, pc agents.PromptContext, emitter *runEmitter) any {
	system, user, err := agents.BuildPrompt(domain.AgentVision, pc)
	if err != nil {
		return agents.VisionUnavailableNote
	}
	comp, err := e.Invoker.Invoke(ctx, agents.Request{
		Agent:   domain.AgentVision,
		System:  system,
		User:    user,
		Options: e.agentOptions(),
	})
	if err != nil {
		emitter.emit(ctx, "vision.degraded", map[string]any{"detail": err.Error()})
		return agents.VisionUnavailableNote
	}
	parsed, err := agents.ParseAgentJSON(comp.Text)
	if err != nil {
		emitter.emit(ctx, "vision.degraded", map[string]any{"detail": err.Error()})
		return agents.VisionUnavailableNote
	}
	emitter.emit(ctx, "vision.completed", nil)
	return parsed
}

func lastRoundLowConfidence(r domain.JudgeReport) bool {
	if len(r.Rounds) == 0 {
		return false
	}
	return r.Rounds[len(r.Rounds)-1].LowConfidence
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
