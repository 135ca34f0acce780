package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"claimline/internal/app"
	"claimline/internal/domain"
	"claimline/internal/store"
)

// issueKey mints a new API key and stores only its hash.
func issueKey(ctx context.Context, rt *app.Runtime, actorID, name string) (domain.APIKey, string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	plaintext := "clk_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   store.HashAPIKey(plaintext),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := rt.Keys.PutAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}
