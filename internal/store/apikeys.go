package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"

	"claimline/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// KeyStore is the credential lookup contract the HTTP auth middleware
// uses. Both backends implement it.
type KeyStore interface {
	PutAPIKey(ctx context.Context, key domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

func (s *SQLite) PutAPIKey(ctx context.Context, key domain.APIKey) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO api_keys(id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

func (s *SQLite) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,actor_id,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.APIKey
	err := row.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

func (m *Memory) PutAPIKey(_ context.Context, key domain.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apiKeys == nil {
		m.apiKeys = make(map[string]domain.APIKey)
	}
	m.apiKeys[key.KeyHash] = key
	return nil
}

func (m *Memory) GetAPIKeyByHash(_ context.Context, hash string) (domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.apiKeys[hash]
	if !ok {
		return domain.APIKey{}, ErrNotFound
	}
	return key, nil
}
