// Package ledger implements the tamper-evident, hash-chained audit
// record kept per claim. Every entry links to its predecessor by hash;
// altering any historical payload is detectable by recomputing the chain
// forward. The chain is per-claim, not global.
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"claimline/internal/domain"
	"claimline/internal/store"
)

// ErrChainBroken reports a ledger whose recomputed hashes or prev_hash
// linkage do not match the stored values.
var ErrChainBroken = errors.New("ledger: hash chain is broken")

// Ledger appends hash-chained events through the document store.
type Ledger struct {
	Store store.Store
	Now   func() time.Time
}

// New returns a Ledger over the given store.
func New(s store.Store) *Ledger {
	return &Ledger{Store: s, Now: time.Now}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// hashable is the canonical serialization hashed for each event. Field
// order is irrelevant (RFC 8785 sorts keys); prev_hash is omitted when
// absent so a first event hashes differently from a linked one.
type hashable struct {
	ClaimID   string           `json:"claim_id"`
	EventKey  string           `json:"event_key"`
	CreatedAt string           `json:"created_at"`
	Stage     domain.Stage     `json:"stage"`
	Type      domain.EventType `json:"type"`
	Data      map[string]any   `json:"data"`
	PrevHash  string           `json:"prev_hash,omitempty"`
}

// ComputeEventHash returns the SHA-256 hex digest of the event's
// canonical JSON form. Pure: identical inputs always hash identically.
func ComputeEventHash(ev domain.ClaimEvent) (string, error) {
	raw, err := json.Marshal(hashable{
		ClaimID:   ev.ClaimID,
		EventKey:  ev.EventKey,
		CreatedAt: ev.CreatedAt,
		Stage:     ev.Stage,
		Type:      ev.Type,
		Data:      ev.Data,
		PrevHash:  ev.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("ledger: marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// EventKey builds the sortable composite key: a fixed-width UTC timestamp,
// the stage, and a short random suffix. Lexicographic order equals
// chronological order, and the suffix keeps keys unique for events
// created in the same instant.
func EventKey(t time.Time, stage domain.Stage) string {
	t = t.UTC()
	ts := fmt.Sprintf("%s.%09dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond())
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s#%s#%s", ts, stage, hex.EncodeToString(suffix))
}

// Append builds the next event for the claim, links it to the current
// chain tail, hashes it and durably stores it.
func (l *Ledger) Append(ctx context.Context, claimID string, stage domain.Stage, eventType domain.EventType, data map[string]any) (domain.ClaimEvent, error) {
	if data == nil {
		data = map[string]any{}
	}
	now := l.now().UTC()
	ev := domain.ClaimEvent{
		ClaimID:   claimID,
		EventKey:  EventKey(now, stage),
		CreatedAt: now.Format(time.RFC3339Nano),
		Stage:     stage,
		Type:      eventType,
		Data:      data,
	}
	tail, err := l.Store.GetLastEvent(ctx, claimID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.ClaimEvent{}, fmt.Errorf("ledger: chain tail: %w", err)
	}
	if err == nil {
		ev.PrevHash = tail.Hash
	}
	ev.Hash, err = ComputeEventHash(ev)
	if err != nil {
		return domain.ClaimEvent{}, err
	}
	if err := l.Store.PutEvent(ctx, ev); err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("ledger: store event: %w", err)
	}
	return ev, nil
}

// Verify walks the claim's ledger from the first event, recomputing each
// hash and checking prev_hash linkage.
func (l *Ledger) Verify(ctx context.Context, claimID string) error {
	events, err := l.Store.GetEvents(ctx, claimID)
	if err != nil {
		return fmt.Errorf("ledger: load events: %w", err)
	}
	return VerifyEvents(events)
}

// VerifyEvents checks an already-loaded, key-ordered event sequence.
func VerifyEvents(events []domain.ClaimEvent) error {
	prevHash := ""
	for i, ev := range events {
		if ev.PrevHash != prevHash {
			return fmt.Errorf("%w: event %d prev_hash %q, expected %q", ErrChainBroken, i, ev.PrevHash, prevHash)
		}
		computed, err := ComputeEventHash(ev)
		if err != nil {
			return fmt.Errorf("%w: event %d: %v", ErrChainBroken, i, err)
		}
		if computed != ev.Hash {
			return fmt.Errorf("%w: event %d hash mismatch (computed %s, stored %s)", ErrChainBroken, i, computed, ev.Hash)
		}
		prevHash = ev.Hash
	}
	return nil
}
