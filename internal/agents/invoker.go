// Package agents holds the contract with the external completion service
// and the per-agent prompt table. The orchestrator only needs "invoke
// agent, get structured text back"; everything behind that line is
// replaceable.
package agents

import (
	"context"
	"fmt"

	"claimline/internal/domain"
)

// Request is one agent invocation.
type Request struct {
	Agent   domain.AgentKind
	System  string
	User    string
	Options Options
}

// Options tunes a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Completion is the structured-text result of an invocation.
type Completion struct {
	Text  string
	Model string
	Usage domain.Usage
}

// Invoker is the external agent-invocation collaborator.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Completion, error)
}

// UpstreamError carries an HTTP-like status from the completion service.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream agent failure (status %d): %s", e.Status, e.Message)
}

func usageFrom(in, out int) domain.Usage {
	return domain.Usage{InputTokens: in, OutputTokens: out}
}
