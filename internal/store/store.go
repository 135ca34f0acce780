// Package store defines the document-store contract the pipeline core
// consumes and its two backends. The backend is selected once at process
// start and injected; nothing branches on it per call.
package store

import (
	"context"
	"errors"

	"claimline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the claim/run-scoped persistence contract. Implementations
// guarantee read-your-writes consistency per key.
type Store interface {
	PutClaim(ctx context.Context, c domain.Claim) error
	GetClaim(ctx context.Context, claimID string) (domain.Claim, error)
	ListClaims(ctx context.Context) ([]domain.Claim, error)
	UpdateClaimStage(ctx context.Context, claimID string, stage domain.Stage, updatedAt string) error
	UpdateClaim(ctx context.Context, c domain.Claim) error

	// Events are keyed (claim_id, event_key), sorted ascending.
	PutEvent(ctx context.Context, ev domain.ClaimEvent) error
	GetLastEvent(ctx context.Context, claimID string) (domain.ClaimEvent, error)
	GetEvents(ctx context.Context, claimID string) ([]domain.ClaimEvent, error)

	PutRun(ctx context.Context, r domain.Run) error
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	UpdateRun(ctx context.Context, r domain.Run) error
	GetRunsForClaim(ctx context.Context, claimID string) ([]domain.Run, error)

	// Run events are keyed (run_id, seq), ascending.
	PutRunEvent(ctx context.Context, ev domain.RunEvent) error
	GetRunEvents(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error)

	PutDecision(ctx context.Context, d domain.ReviewerDecision) error
	GetDecision(ctx context.Context, claimID string) (domain.ReviewerDecision, error)

	// PurgeClaim removes the claim, its whole ledger, runs and run events.
	// Individual ledger entries are never deleted.
	PurgeClaim(ctx context.Context, claimID string) error
}
