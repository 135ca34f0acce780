package agents

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"claimline/internal/domain"
)

// ClaimView is the decrypted, prompt-ready projection of a claim. The
// orchestrator builds it locally; PII never leaves the process in
// encrypted form.
type ClaimView struct {
	ID            string   `json:"claim_id"`
	PolicyNumber  string   `json:"policy_number"`
	ClaimantName  string   `json:"claimant_name"`
	ClaimantEmail string   `json:"claimant_email"`
	ClaimantPhone string   `json:"claimant_phone"`
	VIN           string   `json:"vin"`
	VehicleMake   string   `json:"vehicle_make,omitempty"`
	VehicleModel  string   `json:"vehicle_model,omitempty"`
	VehicleYear   int      `json:"vehicle_year,omitempty"`
	DateOfLoss    string   `json:"date_of_loss"`
	LossLocation  string   `json:"loss_location,omitempty"`
	Description   string   `json:"description"`
	PhotoKeys     []string `json:"photo_keys,omitempty"`
}

// PromptContext is everything a stage prompt can draw on: the claim,
// the accepted outputs of earlier stages, and step-specific extras such
// as the vision analysis or the reviewer decision.
type PromptContext struct {
	Claim        ClaimView
	PriorOutputs map[string]map[string]any
	Extra        map[string]any
}

// VisionUnavailableNote is merged into the assessment context when the
// auxiliary vision analysis fails; the stage proceeds on text only.
const VisionUnavailableNote = "assessment based on text only; photo analysis unavailable"

const outputContract = "Respond with a single JSON object and nothing else. " +
	"Do not add properties beyond the required schema."

// BuildPrompt returns the system and user messages for a producing
// agent. Unknown kinds are a programming error surfaced as an error, not
// a silent default.
func BuildPrompt(agent domain.AgentKind, pc PromptContext) (system, user string, err error) {
	claimJSON, err := json.MarshalIndent(pc.Claim, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("agents: marshal claim view: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Claim data:\n%s\n", claimJSON)
	// Sections in sorted key order so the same context always yields the
	// same prompt; stored prompts stay diffable across runs.
	for _, key := range sortedKeys(pc.PriorOutputs) {
		raw, err := json.MarshalIndent(pc.PriorOutputs[key], "", "  ")
		if err != nil {
			return "", "", fmt.Errorf("agents: marshal prior output %s: %w", key, err)
		}
		fmt.Fprintf(&b, "\nAccepted %s output:\n%s\n", key, raw)
	}
	for _, key := range sortedKeys(pc.Extra) {
		raw, err := json.MarshalIndent(pc.Extra[key], "", "  ")
		if err != nil {
			return "", "", fmt.Errorf("agents: marshal extra %s: %w", key, err)
		}
		fmt.Fprintf(&b, "\n%s:\n%s\n", key, raw)
	}

	switch agent {
	case domain.AgentFrontDesk:
		system = "You are the front-desk intake reviewer for an auto insurance carrier. " +
			"Summarize the first notice of loss, check completeness, draft an acknowledgment to the claimant, and set a priority. " +
			outputContract
	case domain.AgentCoverage:
		system = "You are a coverage analyst. Determine whether the policy is active and whether the described loss is covered, citing exclusions and limits. " +
			outputContract
	case domain.AgentAssessment:
		system = "You are a vehicle damage assessor. Estimate severity, repair cost and repair-vs-replace from the claim description and any photo analysis provided. " +
			outputContract
	case domain.AgentFraud:
		system = "You are a fraud analyst. Score fraud risk 0-100, list indicators, and recommend an action. " +
			outputContract
	case domain.AgentFinalDecision:
		system = "You are the claims decision writer. Given the reviewer's decision, produce the formal decision and a decision letter for the claimant. " +
			outputContract
	case domain.AgentPayment:
		system = "You are the payment processor. Produce a payment instruction consistent with the approved decision, or mark the claim not payable. " +
			outputContract
	case domain.AgentVision:
		system = "You are a vehicle damage photo analyst. Describe visible damage per photo and an overall severity impression. " +
			outputContract
	default:
		return "", "", fmt.Errorf("agents: no prompt for agent %q", agent)
	}
	return system, b.String(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildJudgePrompt asks the judge to score a producer's output.
func BuildJudgePrompt(producer domain.AgentKind, producerInput, producerOutput string) (system, user string) {
	system = "You are a quality judge for insurance claim agents. " +
		"Evaluate the producer output against its input for accuracy, completeness, relevance, consistency, compliance and actionability (0-10 each). " +
		"Return JSON: {\"verdict\": \"pass|revise|fail\", \"scores\": {...}, \"flags\": [...], \"rationale\": \"...\"}. " +
		outputContract
	user = fmt.Sprintf("Producer agent: %s\n\nProducer input:\n%s\n\nProducer output:\n%s", producer, producerInput, producerOutput)
	return system, user
}

// BuildMetaJudgePrompt asks the meta-judge to audit a judge verdict.
func BuildMetaJudgePrompt(producer domain.AgentKind, producerOutput, judgeOutput string) (system, user string) {
	system = "You are a meta-judge auditing another judge's verdict on an insurance claim agent output. " +
		"Return JSON: {\"meta_verdict\": \"confirm|override\", \"override_verdict\": \"pass|revise|fail\", \"rationale\": \"...\"}. " +
		"Only set override_verdict when meta_verdict is override. " +
		outputContract
	user = fmt.Sprintf("Producer agent: %s\n\nProducer output:\n%s\n\nJudge verdict under audit:\n%s", producer, producerOutput, judgeOutput)
	return system, user
}
