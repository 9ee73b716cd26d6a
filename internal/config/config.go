package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"colab/internal/domain"
)

const fileName = "colab.yml"

// Config models colab.yml.
type Config struct {
	Backend struct {
		URL     string `yaml:"url"`
		AnonKey string `yaml:"anon_key"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	Identity struct {
		Name    string `yaml:"name"`
		Project string `yaml:"project"`
	} `yaml:"identity"`
	Paths struct {
		Keystore string `yaml:"keystore"`
		Bots     string `yaml:"bots"`
	} `yaml:"paths"`
	// Roles maps agent names to roles. It replaces the built-in table when set.
	Roles  map[string]string `yaml:"roles"`
	Server struct {
		Addr          string `yaml:"addr"`
		JWTSecret     string `yaml:"jwt_secret"`
		Database      string `yaml:"database"`
		Team          string `yaml:"team"`
		InviteBaseURL string `yaml:"invite_base_url"`
	} `yaml:"server"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Backend.URL != "" && !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("config.backend.url must be an http(s) url")
	}
	if c.Backend.Timeout != "" {
		d, err := time.ParseDuration(c.Backend.Timeout)
		if err != nil {
			return fmt.Errorf("config.backend.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("config.backend.timeout must be positive")
		}
	}
	for name, role := range c.Roles {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.roles contains an empty name")
		}
		if !domain.Role(role).Valid() {
			return fmt.Errorf("config.roles.%s: unknown role %q", name, role)
		}
	}
	if c.Identity.Project != "" && strings.ContainsAny(c.Identity.Project, " /") {
		return fmt.Errorf("config.identity.project must be a slug")
	}
	return nil
}

// Timeout returns the backend timeout, or 0 when unset.
func (c *Config) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.Backend.Timeout)
	return d
}

// RoleTable returns the configured roles, or nil when none are set.
func (c *Config) RoleTable() map[string]domain.Role {
	if len(c.Roles) == 0 {
		return nil
	}
	table := make(map[string]domain.Role, len(c.Roles))
	for name, role := range c.Roles {
		table[domain.NormalizeName(name)] = domain.Role(role)
	}
	return table
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, domain.NormalizeName(name))
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with colab init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset keys keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to the workspace's colab.yml.
func Save(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o600)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `backend:
  url: ""
  anon_key: ""
  timeout: 15s

identity:
  name: "%s"
  project: claude-colab

paths:
  keystore: ~/.claude/keystore.json
  bots: ~/.claude

server:
  addr: 127.0.0.1:8787
  jwt_secret: ""
  database: ""
  team: default
  invite_base_url: http://localhost:8787/invite
`

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
