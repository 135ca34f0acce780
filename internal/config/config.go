package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models claimline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	Agents struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		VisionModel string  `yaml:"vision_model"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"agents"`
	Judge struct {
		MaxRevisionRounds int `yaml:"max_revision_rounds"`
	} `yaml:"judge"`
	Encryption struct {
		KeyEnv string `yaml:"key_env"`
	} `yaml:"encryption"`
	Server struct {
		Addr         string `yaml:"addr"`
		JWTSecretEnv string `yaml:"jwt_secret_env"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "claims-pipeline" {
		return fmt.Errorf("config.project.kind must be 'claims-pipeline'")
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config.storage.backend must be 'memory' or 'sqlite', got %q", c.Storage.Backend)
	}
	if c.Agents.BaseURL == "" {
		return fmt.Errorf("config.agents.base_url is required")
	}
	if c.Agents.Model == "" {
		return fmt.Errorf("config.agents.model is required")
	}
	if c.Judge.MaxRevisionRounds < 0 {
		return fmt.Errorf("config.judge.max_revision_rounds must be >= 0")
	}
	if c.Encryption.KeyEnv == "" {
		return fmt.Errorf("config.encryption.key_env is required")
	}
	return nil
}

// AgentAPIKey resolves the completion-service key from the environment.
func (c *Config) AgentAPIKey() string {
	if c.Agents.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Agents.APIKeyEnv)
}

// EncryptionKey resolves the raw PII key material from the environment.
// The value is hex or base64 decoded by the caller; here it is opaque.
func (c *Config) EncryptionKey() string {
	return os.Getenv(c.Encryption.KeyEnv)
}

// JWTSecret resolves the server signing secret from the environment.
func (c *Config) JWTSecret() string {
	if c.Server.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Server.JWTSecretEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "claimline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "claims-pipeline"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  kind: claims-pipeline

storage:
  backend: sqlite

agents:
  base_url: https://api.openai.com/v1
  model: gpt-4o
  vision_model: gpt-4o
  api_key_env: CLAIMLINE_AGENT_API_KEY
  temperature: 0.2
  max_tokens: 2048

judge:
  max_revision_rounds: 2

encryption:
  key_env: CLAIMLINE_PII_KEY

server:
  addr: 127.0.0.1:8787
  jwt_secret_env: CLAIMLINE_JWT_SECRET
`
