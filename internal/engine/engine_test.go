package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"claimline/internal/agents"
	"claimline/internal/config"
	"claimline/internal/domain"
	"claimline/internal/ledger"
	"claimline/internal/piicrypto"
	"claimline/internal/schema"
	"claimline/internal/store"
)

// fakeInvoker serves canned responses per agent kind and can be told to
// fail for specific agents.
type fakeInvoker struct {
	responses map[domain.AgentKind]string
	errs      map[domain.AgentKind]error
	calls     map[domain.AgentKind]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		responses: map[domain.AgentKind]string{
			domain.AgentFrontDesk:     `{"claim_summary":"Rear-end collision.","completeness":{"complete":true},"acknowledgment_draft":"We received your claim.","priority":"standard"}`,
			domain.AgentCoverage:      `{"policy_active":true,"coverage_applies":true,"rationale":"Collision coverage applies."}`,
			domain.AgentAssessment:    `{"severity":"moderate","estimated_repair_cost":3400.5,"repair_or_replace":"repair"}`,
			domain.AgentFraud:         `{"risk_score":10,"risk_level":"low","recommended_action":"proceed"}`,
			domain.AgentFinalDecision: `{"decision":"approve","approved_amount":3400.5,"decision_letter":"Your claim has been approved."}`,
			domain.AgentPayment:       `{"status":"scheduled","amount":3400.5,"method":"ach"}`,
			domain.AgentVision:        `{"overall":"moderate rear damage","photos":["rear bumper dented"]}`,
			domain.AgentJudge:         `{"verdict":"pass","scores":{"accuracy":9,"completeness":9,"relevance":9,"consistency":9,"compliance":9,"actionability":9},"rationale":"solid"}`,
			domain.AgentMetaJudge:     `{"meta_verdict":"confirm","rationale":"agreed"}`,
		},
		errs:  map[domain.AgentKind]error{},
		calls: map[domain.AgentKind]int{},
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, req agents.Request) (*agents.Completion, error) {
	f.calls[req.Agent]++
	if err := f.errs[req.Agent]; err != nil {
		return nil, err
	}
	text, ok := f.responses[req.Agent]
	if !ok {
		return nil, fmt.Errorf("no canned response for %s", req.Agent)
	}
	return &agents.Completion{Text: text, Model: "test-model", Usage: domain.Usage{InputTokens: 10, OutputTokens: 20}}, nil
}

type testEnv struct {
	engine  Engine
	store   *store.Memory
	invoker *fakeInvoker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	cipher, err := piicrypto.NewCipher(bytes.Repeat([]byte{7}, piicrypto.KeySize))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	cfg := config.Default("test")
	cfg.Judge.MaxRevisionRounds = 1
	inv := newFakeInvoker()
	e := New(mem, inv, validator, cipher, cfg)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tick := 0
	e.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	e.Ledger.Now = e.Now
	return &testEnv{engine: e, store: mem, invoker: inv}
}

func submitTestClaim(t *testing.T, env *testEnv) domain.Claim {
	t.Helper()
	c, err := env.engine.SubmitClaim(context.Background(), ClaimIntake{
		PolicyNumber:  "POL-2026-001",
		ClaimantName:  "Jane Fraser",
		ClaimantEmail: "jane@example.com",
		ClaimantPhone: "+1-555-0100",
		VIN:           "1HGBH41JXMN109186",
		VehicleMake:   "Honda",
		VehicleModel:  "Civic",
		VehicleYear:   2022,
		DateOfLoss:    "2026-02-27",
		Description:   "Rear-ended at a stop light, bumper damage.",
	})
	if err != nil {
		t.Fatalf("submit claim: %v", err)
	}
	return c
}

func TestSubmitClaimEncryptsPIIAndSetsDeadlines(t *testing.T) {
	env := newTestEnv(t)
	c := submitTestClaim(t, env)

	if c.Stage != domain.StageFNOLSubmitted {
		t.Fatalf("expected stage FNOL_SUBMITTED, got %s", c.Stage)
	}
	if c.Claimant.Name == "Jane Fraser" || c.Vehicle.VIN == "1HGBH41JXMN109186" {
		t.Fatal("PII stored in plaintext")
	}
	view := env.engine.View(c)
	if view.ClaimantName != "Jane Fraser" || view.VIN != "1HGBH41JXMN109186" {
		t.Fatalf("view did not decrypt: %+v", view)
	}

	created, err := time.Parse(time.RFC3339, c.CreatedAt)
	if err != nil {
		t.Fatalf("created_at: %v", err)
	}
	ack, err := time.Parse(time.RFC3339, c.Compliance.AckDueAt)
	if err != nil {
		t.Fatalf("ack_due_at: %v", err)
	}
	if got := ack.Sub(created); got != 15*24*time.Hour {
		t.Fatalf("ack deadline offset = %v", got)
	}
	if c.Compliance.FraudReportDueAt == "" || c.Compliance.AcceptDenyDueAt == "" {
		t.Fatalf("missing deadlines: %+v", c.Compliance)
	}

	events, err := env.store.GetEvents(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.EventClaimSubmitted {
		t.Fatalf("expected one CLAIM_SUBMITTED event, got %+v", events)
	}
}

func TestRunPipelineToPendingReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)

	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("run pipeline: %v", err)
	}
	if res.EndStage != domain.StagePendingReview {
		t.Fatalf("expected PENDING_REVIEW, got %s", res.EndStage)
	}
	if len(res.RunIDs) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(res.RunIDs))
	}

	got, _ := env.store.GetClaim(ctx, c.ID)
	if got.Stage != domain.StagePendingReview {
		t.Fatalf("stored stage = %s", got.Stage)
	}

	events, err := env.store.GetEvents(ctx, c.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) < 5 {
		t.Fatalf("expected at least 5 ledger events, got %d", len(events))
	}
	if err := ledger.VerifyEvents(events); err != nil {
		t.Fatalf("ledger does not verify: %v", err)
	}

	// Each run carries an accepted judge report.
	runs, _ := env.store.GetRunsForClaim(ctx, c.ID)
	for _, r := range runs {
		if r.Status != domain.RunSucceeded {
			t.Fatalf("run %s status %s (%s)", r.ID, r.Status, r.ErrorDetail)
		}
		if r.JudgeReport == nil || !r.JudgeReport.Accepted {
			t.Fatalf("run %s missing accepted judge report", r.ID)
		}
	}
}

func TestPipelineIsIdempotentAtPendingReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)

	if _, err := env.engine.RunPipeline(ctx, c.ID, "ops-1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(res.RunIDs) != 0 || res.EndStage != domain.StagePendingReview {
		t.Fatalf("second pass should be a no-op, got %+v", res)
	}
}

func TestJudgeRejectionDoesNotHaltPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	env.invoker.responses[domain.AgentJudge] = `{"verdict":"fail","scores":{"accuracy":2,"completeness":2,"relevance":2,"consistency":2,"compliance":2,"actionability":2},"rationale":"weak"}`

	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("judge rejection must not fail the pass: %v", err)
	}
	if res.EndStage != domain.StagePendingReview {
		t.Fatalf("ended at %s", res.EndStage)
	}

	runs, _ := env.store.GetRunsForClaim(ctx, c.ID)
	for _, r := range runs {
		if r.Status != domain.RunSucceeded {
			t.Fatalf("run %s status %s", r.ID, r.Status)
		}
		if r.JudgeReport == nil || r.JudgeReport.Accepted {
			t.Fatalf("run %s should carry a rejected judge report", r.ID)
		}
	}
	events, _ := env.store.GetEvents(ctx, c.ID)
	found := false
	for _, ev := range events {
		if ev.Type == domain.EventJudgeFailed {
			found = true
		}
	}
	if !found {
		t.Fatal("expected JUDGE_FAILED ledger events")
	}
}

func TestInvalidOutputHaltsAndPreservesStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	env.invoker.responses[domain.AgentFrontDesk] = "Sure! Here's a summary of the claim in plain prose."

	_, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err == nil {
		t.Fatal("expected pipeline to halt")
	}

	got, _ := env.store.GetClaim(ctx, c.ID)
	if got.Stage != domain.StageFNOLSubmitted {
		t.Fatalf("stage changed on failure: %s", got.Stage)
	}
	runs, _ := env.store.GetRunsForClaim(ctx, c.ID)
	if len(runs) != 1 || runs[0].Status != domain.RunFailed || runs[0].ErrorType != ErrTypeInvalidOutput {
		t.Fatalf("unexpected run record: %+v", runs)
	}
	events, _ := env.store.GetEvents(ctx, c.ID)
	last := events[len(events)-1]
	if last.Type != domain.EventStageError {
		t.Fatalf("expected STAGE_ERROR tail event, got %s", last.Type)
	}
	if err := ledger.VerifyEvents(events); err != nil {
		t.Fatalf("ledger must still verify after a failed step: %v", err)
	}

	// Fixing the agent output lets a later invocation retry the stage.
	env.invoker.responses[domain.AgentFrontDesk] = newFakeInvoker().responses[domain.AgentFrontDesk]
	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.EndStage != domain.StagePendingReview {
		t.Fatalf("retry ended at %s", res.EndStage)
	}
}

func TestSchemaViolationRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	env.invoker.responses[domain.AgentFrontDesk] = `{"claim_summary":"ok","completeness":{"complete":true},"acknowledgment_draft":"hi","priority":"standard","editorial":"extra"}`

	_, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err == nil {
		t.Fatal("expected schema violation to halt")
	}
	runs, _ := env.store.GetRunsForClaim(ctx, c.ID)
	if runs[0].ErrorType != ErrTypeSchema {
		t.Fatalf("error type = %s", runs[0].ErrorType)
	}
	events, _ := env.store.GetEvents(ctx, c.ID)
	last := events[len(events)-1]
	if last.Type != domain.EventSchemaViolation {
		t.Fatalf("expected SCHEMA_VALIDATION_FAILED event, got %s", last.Type)
	}
}

func TestUpstreamFailureHaltsMidPipeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	env.invoker.errs[domain.AgentCoverage] = &agents.UpstreamError{Status: 503, Message: "overloaded"}

	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err == nil {
		t.Fatal("expected halt")
	}
	if !res.Halted || res.HaltReason != ErrTypeUpstream {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := env.store.GetClaim(ctx, c.ID)
	if got.Stage != domain.StageFrontdeskDone {
		t.Fatalf("expected claim parked at FRONTDESK_DONE, got %s", got.Stage)
	}

	delete(env.invoker.errs, domain.AgentCoverage)
	res, err = env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.StartStage != domain.StageFrontdeskDone || res.EndStage != domain.StagePendingReview {
		t.Fatalf("resume result: %+v", res)
	}
}

func TestVisionFailureDegradesAssessment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c, err := env.engine.SubmitClaim(ctx, ClaimIntake{
		PolicyNumber: "POL-2026-002",
		ClaimantName: "Jane Fraser",
		Description:  "Hail damage across hood and roof.",
		PhotoKeys:    []string{"photos/claim2/hood.jpg"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.invoker.errs[domain.AgentVision] = errors.New("vision endpoint down")

	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("pipeline should not fail on vision degradation: %v", err)
	}
	if res.EndStage != domain.StagePendingReview {
		t.Fatalf("ended at %s", res.EndStage)
	}

	runs, _ := env.store.GetRunsForClaim(ctx, c.ID)
	var assessmentRun domain.Run
	for _, r := range runs {
		if r.Agent == domain.AgentAssessment {
			assessmentRun = r
		}
	}
	if assessmentRun.ID == "" {
		t.Fatal("assessment run missing")
	}
	if !strings.Contains(assessmentRun.Prompt, agents.VisionUnavailableNote) {
		t.Fatal("assessment prompt should carry the text-only placeholder")
	}
	revs, _ := env.store.GetRunEvents(ctx, assessmentRun.ID, 0)
	found := false
	for _, ev := range revs {
		if ev.Type == "vision.degraded" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected vision.degraded run event")
	}
}

func TestDecisionApprovedThroughPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	if _, err := env.engine.RunPipeline(ctx, c.ID, "ops-1"); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	updated, err := env.engine.SubmitDecision(ctx, domain.ReviewerDecision{
		ClaimID:        c.ID,
		Approved:       true,
		ApprovedAmount: 3400.50,
		ReviewerID:     "reviewer-1",
	}, "reviewer-1")
	if err != nil {
		t.Fatalf("submit decision: %v", err)
	}
	if updated.Stage != domain.StageFinalDecisionDone {
		t.Fatalf("expected FINAL_DECISION_DONE, got %s", updated.Stage)
	}
	stored, _ := env.store.GetClaim(ctx, c.ID)
	if stored.Compliance.PaymentDueAt == "" {
		t.Fatal("payment deadline not set on approval")
	}

	res, err := env.engine.RunFinanceStage(ctx, c.ID, "finance-1")
	if err != nil {
		t.Fatalf("finance: %v", err)
	}
	if res.EndStage != domain.StagePaid {
		t.Fatalf("expected PAID, got %s", res.EndStage)
	}
	events, _ := env.store.GetEvents(ctx, c.ID)
	if err := ledger.VerifyEvents(events); err != nil {
		t.Fatalf("full lifecycle ledger: %v", err)
	}
	foundDecision := false
	for _, ev := range events {
		if ev.Type == domain.EventDecisionRecorded {
			foundDecision = true
		}
	}
	if !foundDecision {
		t.Fatal("expected DECISION_SUBMITTED ledger event")
	}
}

func TestDecisionDeniedClosesNoPay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	if _, err := env.engine.RunPipeline(ctx, c.ID, "ops-1"); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	env.invoker.responses[domain.AgentFinalDecision] = `{"decision":"deny","decision_letter":"Your claim has been denied."}`
	env.invoker.responses[domain.AgentPayment] = `{"status":"not_payable","amount":0}`

	if _, err := env.engine.SubmitDecision(ctx, domain.ReviewerDecision{
		ClaimID:    c.ID,
		Approved:   false,
		Notes:      "outside coverage window",
		ReviewerID: "reviewer-1",
	}, "reviewer-1"); err != nil {
		t.Fatalf("submit decision: %v", err)
	}
	stored, _ := env.store.GetClaim(ctx, c.ID)
	if stored.Compliance.PaymentDueAt != "" {
		t.Fatal("denied claim must not get a payment deadline")
	}

	res, err := env.engine.RunFinanceStage(ctx, c.ID, "finance-1")
	if err != nil {
		t.Fatalf("finance: %v", err)
	}
	if res.EndStage != domain.StageClosedNoPay {
		t.Fatalf("expected CLOSED_NO_PAY, got %s", res.EndStage)
	}
}

func TestDecisionRequiresPendingReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)

	_, err := env.engine.SubmitDecision(ctx, domain.ReviewerDecision{
		ClaimID:    c.ID,
		Approved:   true,
		ReviewerID: "reviewer-1",
	}, "reviewer-1")
	if err == nil {
		t.Fatal("decision on a fresh claim must be rejected")
	}
}

func TestWatchRunStreamsFinishedRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	res, err := env.engine.RunPipeline(ctx, c.ID, "ops-1")
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	var seen []domain.RunEvent
	if err := env.engine.WatchRun(ctx, res.RunIDs[0], func(ev domain.RunEvent) error {
		seen = append(seen, ev)
		return nil
	}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(seen) == 0 {
		t.Fatal("expected run events")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1].Seq >= seen[i].Seq {
			t.Fatal("run events out of order")
		}
	}
	if seen[0].Type != "run.started" {
		t.Fatalf("first event %s", seen[0].Type)
	}
	if seen[len(seen)-1].Type != "run.finished" {
		t.Fatalf("last event %s", seen[len(seen)-1].Type)
	}
}

func TestPurgeClaimRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := submitTestClaim(t, env)
	if _, err := env.engine.RunPipeline(ctx, c.ID, "ops-1"); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if err := env.engine.PurgeClaim(ctx, c.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := env.store.GetClaim(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("claim should be gone")
	}
	if events, _ := env.store.GetEvents(ctx, c.ID); len(events) != 0 {
		t.Fatal("ledger should be gone")
	}
	if err := env.engine.PurgeClaim(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second purge should report not found, got %v", err)
	}
}
