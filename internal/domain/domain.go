package domain

// Claim is the mutable workflow subject. PII fields (claimant contact,
// VIN) hold ciphertext at rest; decryption happens locally when building
// agent prompts or display output.
type Claim struct {
	ID           string     `json:"id"`
	PolicyNumber string     `json:"policy_number"`
	Stage        Stage      `json:"stage"`
	Claimant     Claimant   `json:"claimant"`
	Vehicle      Vehicle    `json:"vehicle"`
	DateOfLoss   string     `json:"date_of_loss" format:"date"`
	LossLocation string     `json:"loss_location,omitempty"`
	Description  string     `json:"description"`
	PhotoKeys    []string   `json:"photo_keys,omitempty"`
	Compliance   Compliance `json:"compliance"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

// Claimant is the contact block. Name, email and phone are encrypted.
type Claimant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Vehicle describes the insured vehicle. VIN is encrypted.
type Vehicle struct {
	VIN   string `json:"vin"`
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// Compliance carries the regulatory deadline timestamps computed on intake
// and updated when proof of loss is received or the claim is accepted.
type Compliance struct {
	AckDueAt              string `json:"ack_due_at,omitempty" format:"date-time"`
	ProofOfLossAt         string `json:"proof_of_loss_at,omitempty" format:"date-time"`
	AcceptDenyDueAt       string `json:"accept_deny_due_at,omitempty" format:"date-time"`
	NextStatusUpdateDueAt string `json:"next_status_update_due_at,omitempty" format:"date-time"`
	FraudReportDueAt      string `json:"fraud_report_due_at,omitempty" format:"date-time"`
	PaymentDueAt          string `json:"payment_due_at,omitempty" format:"date-time"`
}

// ClaimEvent is one immutable entry in the per-claim audit ledger.
// Hash covers {claim_id, event_key, created_at, stage, type, data, prev_hash}
// in canonical JSON; PrevHash links to the previous event for the claim.
type ClaimEvent struct {
	ClaimID   string         `json:"claim_id"`
	EventKey  string         `json:"event_key"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	Stage     Stage          `json:"stage"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Hash      string         `json:"hash"`
}

// EventType enumerates audit ledger entry types.
type EventType string

const (
	EventClaimSubmitted   EventType = "CLAIM_SUBMITTED"
	EventStageStarted     EventType = "STAGE_STARTED"
	EventStageCompleted   EventType = "STAGE_COMPLETED"
	EventStageError       EventType = "STAGE_ERROR"
	EventSchemaViolation  EventType = "SCHEMA_VALIDATION_FAILED"
	EventJudgeCompleted   EventType = "JUDGE_COMPLETED"
	EventJudgeFailed      EventType = "JUDGE_FAILED"
	EventDecisionRecorded EventType = "DECISION_SUBMITTED"
)

// RunStatus is the lifecycle of a single agent invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Run records one execution of a single agent invocation within a
// pipeline pass. Mutated once at completion, never again.
type Run struct {
	ID          string       `json:"id"`
	ClaimID     string       `json:"claim_id"`
	Stage       Stage        `json:"stage"`
	Agent       AgentKind    `json:"agent"`
	Status      RunStatus    `json:"status"`
	ActorID     string       `json:"actor_id"`
	TraceID     string       `json:"trace_id"`
	Prompt      string       `json:"prompt,omitempty"`
	Output      string       `json:"output,omitempty"`
	ErrorType   string       `json:"error_type,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	Model       string       `json:"model,omitempty"`
	Usage       *Usage       `json:"usage,omitempty"`
	JudgeReport *JudgeReport `json:"judge_report,omitempty"`
	StartedAt   string       `json:"started_at" format:"date-time"`
	FinishedAt  string       `json:"finished_at,omitempty" format:"date-time"`
}

// Usage is model token accounting reported by the completion service.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// RunEvent is a strictly increasing per-run sub-event used for progress
// streaming. Append-only, ordered by Seq.
type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Verdict is a judge's call on a producer output.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictRevise Verdict = "revise"
	VerdictFail   Verdict = "fail"
)

// Scores is the six-dimension judge score vector, each 0..10.
type Scores struct {
	Accuracy      float64 `json:"accuracy"`
	Completeness  float64 `json:"completeness"`
	Relevance     float64 `json:"relevance"`
	Consistency   float64 `json:"consistency"`
	Compliance    float64 `json:"compliance"`
	Actionability float64 `json:"actionability"`
}

// JudgeRound is one judge/meta-judge pass over a producer output.
type JudgeRound struct {
	Round            int            `json:"round"`
	Verdict          Verdict        `json:"verdict"`
	Scores           Scores         `json:"scores"`
	Flags            []string       `json:"flags,omitempty"`
	Rationale        string         `json:"rationale,omitempty"`
	LowConfidence    bool           `json:"low_confidence,omitempty"`
	Meta             *MetaAudit     `json:"meta,omitempty"`
	EffectiveVerdict Verdict        `json:"effective_verdict"`
	JudgeOutput      map[string]any `json:"judge_output,omitempty"`
}

// MetaAudit is the meta-judge's audit of a judge round.
type MetaAudit struct {
	MetaVerdict     string  `json:"meta_verdict"`
	OverrideVerdict Verdict `json:"override_verdict,omitempty"`
	Rationale       string  `json:"rationale,omitempty"`
}

// JudgeReport is the ordered list of judge rounds for a run. Immutable
// once written; read by the human reviewer.
type JudgeReport struct {
	Agent    AgentKind    `json:"agent"`
	ClaimID  string       `json:"claim_id"`
	Rounds   []JudgeRound `json:"rounds"`
	Accepted bool         `json:"accepted"`
}

// ReviewerDecision is the human accept/deny handoff that gates the
// finance stage.
type ReviewerDecision struct {
	ClaimID        string  `json:"claim_id"`
	Approved       bool    `json:"approved"`
	ApprovedAmount float64 `json:"approved_amount,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	ReviewerID     string  `json:"reviewer_id"`
	DecidedAt      string  `json:"decided_at" format:"date-time"`
}

// APIKey is a hashed credential bound to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
