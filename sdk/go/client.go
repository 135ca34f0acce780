package claimlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Claimline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// ClaimIntake is the submit payload.
type ClaimIntake struct {
	PolicyNumber  string   `json:"policy_number"`
	ClaimantName  string   `json:"claimant_name"`
	ClaimantEmail string   `json:"claimant_email,omitempty"`
	ClaimantPhone string   `json:"claimant_phone,omitempty"`
	VIN           string   `json:"vin,omitempty"`
	VehicleMake   string   `json:"vehicle_make,omitempty"`
	VehicleModel  string   `json:"vehicle_model,omitempty"`
	VehicleYear   int      `json:"vehicle_year,omitempty"`
	DateOfLoss    string   `json:"date_of_loss,omitempty"`
	LossLocation  string   `json:"loss_location,omitempty"`
	Description   string   `json:"description"`
	PhotoKeys     []string `json:"photo_keys,omitempty"`
}

// Claim is the API claim projection (partial).
type Claim struct {
	ID           string         `json:"id"`
	PolicyNumber string         `json:"policy_number"`
	Stage        string         `json:"stage"`
	View         map[string]any `json:"view,omitempty"`
	Compliance   map[string]any `json:"compliance,omitempty"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
}

// LedgerEvent is one audit ledger entry.
type LedgerEvent struct {
	ClaimID   string         `json:"claim_id"`
	EventKey  string         `json:"event_key"`
	CreatedAt string         `json:"created_at"`
	Stage     string         `json:"stage"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Hash      string         `json:"hash"`
}

// PipelineResult summarizes a pipeline or finance pass.
type PipelineResult struct {
	ClaimID    string   `json:"claim_id"`
	StartStage string   `json:"start_stage"`
	EndStage   string   `json:"end_stage"`
	RunIDs     []string `json:"run_ids,omitempty"`
	Halted     bool     `json:"halted"`
	HaltReason string   `json:"halt_reason,omitempty"`
}

// Run is one agent invocation record (partial).
type Run struct {
	ID          string         `json:"id"`
	ClaimID     string         `json:"claim_id"`
	Agent       string         `json:"agent"`
	Status      string         `json:"status"`
	ErrorType   string         `json:"error_type,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	JudgeReport map[string]any `json:"judge_report,omitempty"`
	StartedAt   string         `json:"started_at"`
	FinishedAt  string         `json:"finished_at,omitempty"`
}

// RunEvent is a run progress sub-event.
type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// VerifyResult is the ledger verification outcome.
type VerifyResult struct {
	ClaimID  string `json:"claim_id"`
	Events   int    `json:"events"`
	Verified bool   `json:"verified"`
	Detail   string `json:"detail,omitempty"`
}

// DecisionResult pairs the updated claim with the finance pass.
type DecisionResult struct {
	Claim   Claim           `json:"claim"`
	Finance *PipelineResult `json:"finance,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitClaim submits a first notice of loss.
func (c *Client) SubmitClaim(ctx context.Context, in ClaimIntake) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodPost, "v0/claims", in, &resp)
	return resp, err
}

// GetClaim fetches one claim.
func (c *Client) GetClaim(ctx context.Context, claimID string) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodGet, c.claimPath(claimID, ""), nil, &resp)
	return resp, err
}

// ListClaims returns all claims.
func (c *Client) ListClaims(ctx context.Context) ([]Claim, error) {
	var resp []Claim
	err := c.do(ctx, http.MethodGet, "v0/claims", nil, &resp)
	return resp, err
}

// RunPipeline advances the claim through the automated stages.
func (c *Client) RunPipeline(ctx context.Context, claimID string) (PipelineResult, error) {
	var resp PipelineResult
	err := c.do(ctx, http.MethodPost, c.claimPath(claimID, "pipeline"), nil, &resp)
	return resp, err
}

// SubmitDecision records the reviewer decision and runs the finance
// stage.
func (c *Client) SubmitDecision(ctx context.Context, claimID string, approved bool, amount float64, notes string) (DecisionResult, error) {
	body := map[string]any{
		"approved":        approved,
		"approved_amount": amount,
		"notes":           notes,
	}
	var resp DecisionResult
	err := c.do(ctx, http.MethodPost, c.claimPath(claimID, "decision"), body, &resp)
	return resp, err
}

// RunFinance retries the payment step for a decided claim.
func (c *Client) RunFinance(ctx context.Context, claimID string) (PipelineResult, error) {
	var resp PipelineResult
	err := c.do(ctx, http.MethodPost, c.claimPath(claimID, "finance"), nil, &resp)
	return resp, err
}

// Ledger returns the claim's full audit ledger.
func (c *Client) Ledger(ctx context.Context, claimID string) ([]LedgerEvent, error) {
	var resp []LedgerEvent
	err := c.do(ctx, http.MethodGet, c.claimPath(claimID, "ledger"), nil, &resp)
	return resp, err
}

// VerifyLedger recomputes the claim's hash chain server-side.
func (c *Client) VerifyLedger(ctx context.Context, claimID string) (VerifyResult, error) {
	var resp VerifyResult
	err := c.do(ctx, http.MethodGet, c.claimPath(claimID, "ledger/verify"), nil, &resp)
	return resp, err
}

// Runs lists agent runs for a claim.
func (c *Client) Runs(ctx context.Context, claimID string) ([]Run, error) {
	var resp []Run
	err := c.do(ctx, http.MethodGet, c.claimPath(claimID, "runs"), nil, &resp)
	return resp, err
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	endpoint := fmt.Sprintf("v0/runs/%s", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RunEvents returns run sub-events after the given sequence number.
func (c *Client) RunEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error) {
	var resp []RunEvent
	endpoint := fmt.Sprintf("v0/runs/%s/events?after_seq=%d", url.PathEscape(runID), afterSeq)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WatchRun polls run sub-events until the run reaches a terminal
// status, invoking fn for each event in order.
func (c *Client) WatchRun(ctx context.Context, runID string, interval time.Duration, fn func(RunEvent) error) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var cursor int64
	for {
		events, err := c.RunEvents(ctx, runID, cursor)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
			cursor = ev.Seq
		}
		r, err := c.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if r.Status != "RUNNING" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// PurgeClaim removes a claim and all its records.
func (c *Client) PurgeClaim(ctx context.Context, claimID string) error {
	return c.do(ctx, http.MethodDelete, c.claimPath(claimID, ""), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) claimPath(claimID, sub string) string {
	p := fmt.Sprintf("v0/claims/%s", url.PathEscape(claimID))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
