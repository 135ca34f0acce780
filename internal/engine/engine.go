// Package engine orchestrates the claim workflow: stage progression,
// agent runs, judging, the audit ledger and the human handoff. One
// pipeline pass per claim runs sequentially; claims are independent.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"claimline/internal/agents"
	"claimline/internal/compliance"
	"claimline/internal/config"
	"claimline/internal/domain"
	"claimline/internal/ledger"
	"claimline/internal/piicrypto"
	"claimline/internal/schema"
	"claimline/internal/store"
)

type Engine struct {
	Store     store.Store
	Ledger    *ledger.Ledger
	Invoker   agents.Invoker
	Validator *schema.Validator
	Cipher    *piicrypto.Cipher
	Config    *config.Config
	Now       func() time.Time
}

func New(s store.Store, inv agents.Invoker, v *schema.Validator, c *piicrypto.Cipher, cfg *config.Config) Engine {
	return Engine{
		Store:     s,
		Ledger:    ledger.New(s),
		Invoker:   inv,
		Validator: v,
		Cipher:    c,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) maxRevisionRounds() int {
	if e.Config != nil {
		return e.Config.Judge.MaxRevisionRounds
	}
	return 2
}

func (e Engine) agentOptions() agents.Options {
	if e.Config == nil {
		return agents.Options{}
	}
	return agents.Options{
		Temperature: e.Config.Agents.Temperature,
		MaxTokens:   e.Config.Agents.MaxTokens,
	}
}

// ClaimIntake is the first notice of loss as received. All fields are
// plaintext; SubmitClaim encrypts the sensitive ones before storage.
type ClaimIntake struct {
	PolicyNumber  string
	ClaimantName  string
	ClaimantEmail string
	ClaimantPhone string
	VIN           string
	VehicleMake   string
	VehicleModel  string
	VehicleYear   int
	DateOfLoss    string
	LossLocation  string
	Description   string
	PhotoKeys     []string
}

// SubmitClaim creates the claim at FNOL_SUBMITTED with encrypted PII,
// computed compliance deadlines and the opening ledger entry. Proof of
// loss is taken as received with the submission.
func (e Engine) SubmitClaim(ctx context.Context, in ClaimIntake) (domain.Claim, error) {
	if in.PolicyNumber == "" {
		return domain.Claim{}, fmt.Errorf("%w: policy number is required", ErrInvalidInput)
	}
	if in.ClaimantName == "" {
		return domain.Claim{}, fmt.Errorf("%w: claimant name is required", ErrInvalidInput)
	}
	if in.Description == "" {
		return domain.Claim{}, fmt.Errorf("%w: loss description is required", ErrInvalidInput)
	}
	name, err := e.Cipher.Encrypt(in.ClaimantName)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("encrypt claimant name: %w", err)
	}
	email, err := e.Cipher.Encrypt(in.ClaimantEmail)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("encrypt claimant email: %w", err)
	}
	phone, err := e.Cipher.Encrypt(in.ClaimantPhone)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("encrypt claimant phone: %w", err)
	}
	vin, err := e.Cipher.Encrypt(in.VIN)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("encrypt vin: %w", err)
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	c := domain.Claim{
		ID:           uuid.New().String(),
		PolicyNumber: in.PolicyNumber,
		Stage:        domain.StageFNOLSubmitted,
		Claimant:     domain.Claimant{Name: name, Email: email, Phone: phone},
		Vehicle: domain.Vehicle{
			VIN:   vin,
			Make:  in.VehicleMake,
			Model: in.VehicleModel,
			Year:  in.VehicleYear,
		},
		DateOfLoss:   in.DateOfLoss,
		LossLocation: in.LossLocation,
		Description:  in.Description,
		PhotoKeys:    in.PhotoKeys,
		Compliance: domain.Compliance{
			AckDueAt:              compliance.AckDeadline(now).Format(time.RFC3339),
			ProofOfLossAt:         nowStr,
			AcceptDenyDueAt:       compliance.AcceptDenyDeadline(now).Format(time.RFC3339),
			NextStatusUpdateDueAt: compliance.StatusUpdateDeadline(now).Format(time.RFC3339),
			FraudReportDueAt:      compliance.FraudReportDeadline(now).Format(time.RFC3339),
		},
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	if err := e.Store.PutClaim(ctx, c); err != nil {
		return domain.Claim{}, fmt.Errorf("store claim: %w", err)
	}
	if _, err := e.Ledger.Append(ctx, c.ID, c.Stage, domain.EventClaimSubmitted, map[string]any{
		"policy_number": c.PolicyNumber,
		"date_of_loss":  c.DateOfLoss,
		"photo_count":   len(c.PhotoKeys),
	}); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// PurgeClaim removes the claim and everything recorded about it. This is
// the only way ledger data ever leaves the store.
func (e Engine) PurgeClaim(ctx context.Context, claimID string) error {
	if _, err := e.Store.GetClaim(ctx, claimID); err != nil {
		return err
	}
	return e.Store.PurgeClaim(ctx, claimID)
}

// View decrypts the claim's PII fields for local prompt and display
// use. Decryption is best effort; an undecryptable field passes through
// as stored.
func (e Engine) View(c domain.Claim) agents.ClaimView {
	name, _ := e.Cipher.DecryptField(c.Claimant.Name)
	email, _ := e.Cipher.DecryptField(c.Claimant.Email)
	phone, _ := e.Cipher.DecryptField(c.Claimant.Phone)
	vin, _ := e.Cipher.DecryptField(c.Vehicle.VIN)
	return agents.ClaimView{
		ID:            c.ID,
		PolicyNumber:  c.PolicyNumber,
		ClaimantName:  name,
		ClaimantEmail: email,
		ClaimantPhone: phone,
		VIN:           vin,
		VehicleMake:   c.Vehicle.Make,
		VehicleModel:  c.Vehicle.Model,
		VehicleYear:   c.Vehicle.Year,
		DateOfLoss:    c.DateOfLoss,
		LossLocation:  c.LossLocation,
		Description:   c.Description,
		PhotoKeys:     c.PhotoKeys,
	}
}

// priorOutputs collects the accepted output of each producing agent's
// most recent successful run for the claim.
func (e Engine) priorOutputs(ctx context.Context, claimID string) (map[string]map[string]any, error) {
	runs, err := e.Store.GetRunsForClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]any{}
	for _, r := range runs {
		if r.Status != domain.RunSucceeded || r.Output == "" {
			continue
		}
		parsed, err := agents.ParseAgentJSON(r.Output)
		if err != nil {
			continue
		}
		out[string(r.Agent)] = parsed
	}
	return out, nil
}

// runEmitter appends ordered sub-events to a run for live progress.
type runEmitter struct {
	store store.Store
	runID string
	now   func() time.Time
	seq   int64
}

func (re *runEmitter) emit(ctx context.Context, eventType string, payload map[string]any) {
	re.seq++
	_ = re.store.PutRunEvent(ctx, domain.RunEvent{
		RunID:   re.runID,
		Seq:     re.seq,
		TS:      re.now().UTC().Format(time.RFC3339Nano),
		Type:    eventType,
		Payload: payload,
	})
}
