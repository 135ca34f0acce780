// Package schema validates agent outputs against the per-stage JSON
// Schemas. Every schema is a closed object shape: undeclared properties
// are rejected.
package schema

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"claimline/internal/domain"
)

//go:embed stages/*.json
var schemaFS embed.FS

// stageKeys maps producing agents to their schema files.
var stageKeys = map[domain.AgentKind]string{
	domain.AgentFrontDesk:     "front_desk",
	domain.AgentCoverage:      "coverage",
	domain.AgentAssessment:    "assessment",
	domain.AgentFraud:         "fraud",
	domain.AgentFinalDecision: "final_decision",
	domain.AgentPayment:       "payment",
}

// Validator holds the compiled stage schemas.
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

// NewValidator compiles all embedded stage schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiled := make(map[string]*jsonschema.Schema, len(stageKeys))
	for _, key := range stageKeys {
		name := "stages/" + key + ".json"
		data, err := schemaFS.Open(name)
		if err != nil {
			return nil, fmt.Errorf("schema: open %s: %w", name, err)
		}
		if err := compiler.AddResource(name, data); err != nil {
			return nil, fmt.Errorf("schema: add %s: %w", name, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}
		compiled[key] = sch
	}
	return &Validator{compiled: compiled}, nil
}

// Keys returns the known stage keys, sorted.
func (v *Validator) Keys() []string {
	keys := make([]string, 0, len(v.compiled))
	for k := range v.compiled {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyForAgent returns the stage key a producing agent validates against.
func KeyForAgent(agent domain.AgentKind) (string, bool) {
	key, ok := stageKeys[agent]
	return key, ok
}

// Validate checks decoded JSON data against the named stage schema and
// returns a detailed violation error on failure.
func (v *Validator) Validate(stageKey string, data any) error {
	sch, ok := v.compiled[stageKey]
	if !ok {
		return fmt.Errorf("schema: unknown stage key %q", stageKey)
	}
	if err := sch.Validate(data); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return fmt.Errorf("schema: %s: %s", stageKey, flatten(ve))
		}
		return fmt.Errorf("schema: %s: %w", stageKey, err)
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// flatten collects leaf causes into one line of detail.
func flatten(ve *jsonschema.ValidationError) string {
	leaves := leafCauses(ve)
	parts := make([]string, 0, len(leaves))
	for _, l := range leaves {
		loc := l.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, l.Message))
	}
	return strings.Join(parts, "; ")
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}
