// Package config resolves the taskhive home directory and loads the
// engine configuration from config.yaml plus the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/taskhive/taskhive/pkg/models"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds engine settings. Zero values fall back to defaults at load.
type Config struct {
	Model         string   `yaml:"model"`
	MaxTokens     int      `yaml:"max_tokens"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	WorkingDir    string   `yaml:"working_dir"`
	SystemPrompt  string   `yaml:"system_prompt"`
	APIBaseURL    string   `yaml:"api_base_url"`
	ApprovalTTL   Duration `yaml:"approval_ttl"` // 0 = approvals never expire
	APIKey        string   `yaml:"-"`            // env only, never persisted
}

// Load reads home/config.yaml (missing file is fine), applies defaults, and
// pulls ANTHROPIC_API_KEY from the environment. A .env file in home is
// loaded first when present, so local setups can keep the key out of the
// shell profile.
func Load(home string) (Config, error) {
	// Ignore a missing .env; godotenv errors on anything else too, which we
	// also ignore: the key may legitimately come from the real environment.
	_ = godotenv.Load(filepath.Join(home, ".env"))

	var cfg Config
	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if cfg.Model == "" {
		cfg.Model = models.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = models.DefaultMaxTokens
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = models.DefaultMaxConcurrentSessions
	}
	if cfg.WorkingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkingDir = wd
		}
	}
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	return cfg, nil
}
