package server

import (
	"claimline/internal/agents"
	"claimline/internal/domain"
	"claimline/internal/engine"
)

type submitClaimBody struct {
	PolicyNumber  string   `json:"policy_number" minLength:"1"`
	ClaimantName  string   `json:"claimant_name" minLength:"1"`
	ClaimantEmail string   `json:"claimant_email,omitempty"`
	ClaimantPhone string   `json:"claimant_phone,omitempty"`
	VIN           string   `json:"vin,omitempty"`
	VehicleMake   string   `json:"vehicle_make,omitempty"`
	VehicleModel  string   `json:"vehicle_model,omitempty"`
	VehicleYear   int      `json:"vehicle_year,omitempty"`
	DateOfLoss    string   `json:"date_of_loss,omitempty" format:"date"`
	LossLocation  string   `json:"loss_location,omitempty"`
	Description   string   `json:"description" minLength:"1"`
	PhotoKeys     []string `json:"photo_keys,omitempty"`
}

func (b submitClaimBody) intake() engine.ClaimIntake {
	return engine.ClaimIntake{
		PolicyNumber:  b.PolicyNumber,
		ClaimantName:  b.ClaimantName,
		ClaimantEmail: b.ClaimantEmail,
		ClaimantPhone: b.ClaimantPhone,
		VIN:           b.VIN,
		VehicleMake:   b.VehicleMake,
		VehicleModel:  b.VehicleModel,
		VehicleYear:   b.VehicleYear,
		DateOfLoss:    b.DateOfLoss,
		LossLocation:  b.LossLocation,
		Description:   b.Description,
		PhotoKeys:     b.PhotoKeys,
	}
}

// claimBody is the API projection of a claim: stored workflow state plus
// the locally decrypted PII view.
type claimBody struct {
	ID           string            `json:"id"`
	PolicyNumber string            `json:"policy_number"`
	Stage        domain.Stage      `json:"stage"`
	View         agents.ClaimView  `json:"view"`
	Compliance   domain.Compliance `json:"compliance"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

func presentClaim(e engine.Engine, c domain.Claim) claimBody {
	return claimBody{
		ID:           c.ID,
		PolicyNumber: c.PolicyNumber,
		Stage:        c.Stage,
		View:         e.View(c),
		Compliance:   c.Compliance,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type decisionBody struct {
	Approved       bool    `json:"approved"`
	ApprovedAmount float64 `json:"approved_amount,omitempty" minimum:"0"`
	Notes          string  `json:"notes,omitempty"`
}

type decisionResult struct {
	Claim   claimBody              `json:"claim"`
	Finance *engine.PipelineResult `json:"finance,omitempty"`
}

type verifyBody struct {
	ClaimID  string `json:"claim_id"`
	Events   int    `json:"events"`
	Verified bool   `json:"verified"`
	Detail   string `json:"detail,omitempty"`
}

type issueKeyBody struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Name    string `json:"name,omitempty"`
}

type issuedKeyBody struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is returned exactly once; only its hash is stored.
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}
