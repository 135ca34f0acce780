// Package app assembles a working engine from workspace config and
// environment. The CLI and the server both bootstrap through here so
// backend selection and key handling live in one place.
package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"claimline/internal/agents"
	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/engine"
	"claimline/internal/migrate"
	"claimline/internal/piicrypto"
	"claimline/internal/schema"
	"claimline/internal/store"
)

// Runtime is the assembled process state.
type Runtime struct {
	Engine engine.Engine
	Store  store.Store
	Keys   store.KeyStore
	Config *config.Config

	closer func() error
}

// Close releases the backing store, if it holds resources.
func (rt *Runtime) Close() error {
	if rt.closer == nil {
		return nil
	}
	return rt.closer()
}

// Build loads claimline.yml from the workspace (seeding defaults when
// absent), decodes the PII key from the configured environment variable
// and wires the selected storage backend.
func Build(workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("claimline")
	}

	key, err := DecodeKey(cfg.EncryptionKey())
	if err != nil {
		return nil, fmt.Errorf("encryption key (%s): %w", cfg.Encryption.KeyEnv, err)
	}
	cipher, err := piicrypto.NewCipher(key)
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	invoker := agents.NewHTTPInvoker(cfg.Agents.BaseURL, cfg.AgentAPIKey(), cfg.Agents.Model)

	rt := &Runtime{Config: cfg}
	switch cfg.Storage.Backend {
	case "memory":
		m := store.NewMemory()
		rt.Store, rt.Keys = m, m
	default: // sqlite
		conn, err := db.Open(workspace)
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
		s := store.NewSQLite(conn)
		rt.Store, rt.Keys = s, s
		rt.closer = conn.Close
	}
	rt.Engine = engine.New(rt.Store, invoker, validator, cipher, cfg)
	return rt, nil
}

// DecodeKey accepts the 32-byte PII key as hex or standard base64.
func DecodeKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("not set")
	}
	if b, err := hex.DecodeString(raw); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("neither hex nor base64")
	}
	return b, nil
}
