// Package config loads server settings from an optional .env file, an
// optional YAML file and the environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string `yaml:"port"`
	DatabaseURL        string `yaml:"database_url"`
	SlackBotToken      string `yaml:"slack_bot_token"`
	SlackSigningSecret string `yaml:"slack_signing_secret"`
	// APIToken signs the bearer tokens of the REST API; empty disables it.
	APIToken string `yaml:"api_token"`

	// SlackAPIURL points the Slack client somewhere other than slack.com.
	SlackAPIURL  string `yaml:"slack_api_url"`
	GitHubToken  string `yaml:"github_token"`
	GitHubAPIURL string `yaml:"github_api_url"`
	GitHubHost   string `yaml:"github_host"`

	PresenceExpiry         time.Duration      `yaml:"presence_expiry"`
	NewMembersAreReviewers bool               `yaml:"new_members_are_reviewers"`
	PersonDeletePolicy     model.DeletePolicy `yaml:"person_delete_policy"`

	DBConnectAttempts uint          `yaml:"db_connect_attempts"`
	DBConnectDelay    time.Duration `yaml:"db_connect_delay"`
	LogLevel          string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Port:                   "8080",
		DatabaseURL:            "postgres://pguser:pgpass@db:5432/reviewbot?sslmode=disable",
		GitHubHost:             "github.com",
		PresenceExpiry:         10 * time.Minute,
		NewMembersAreReviewers: true,
		PersonDeletePolicy:     model.DeleteRestrict,
		DBConnectAttempts:      15,
		DBConnectDelay:         2 * time.Second,
		LogLevel:               "info",
	}
}

// Load reads .env from the working directory if present, then the YAML file
// at path if path is not empty, then the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("SLACK_BOT_TOKEN", &cfg.SlackBotToken)
	str("SLACK_SIGNING_SECRET", &cfg.SlackSigningSecret)
	str("API_TOKEN", &cfg.APIToken)
	str("SLACK_API_URL", &cfg.SlackAPIURL)
	str("GITHUB_TOKEN", &cfg.GitHubToken)
	str("GITHUB_API_URL", &cfg.GitHubAPIURL)
	str("GITHUB_HOST", &cfg.GitHubHost)
	str("LOG_LEVEL", &cfg.LogLevel)
	if v := os.Getenv("PERSON_DELETE_POLICY"); v != "" {
		cfg.PersonDeletePolicy = model.DeletePolicy(v)
	}

	if v := os.Getenv("NEW_MEMBERS_ARE_REVIEWERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NEW_MEMBERS_ARE_REVIEWERS: %w", err)
		}
		cfg.NewMembersAreReviewers = b
	}
	if v := os.Getenv("DB_CONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("DB_CONNECT_ATTEMPTS: %w", err)
		}
		cfg.DBConnectAttempts = uint(n)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PRESENCE_EXPIRY", &cfg.PresenceExpiry},
		{"DB_CONNECT_DELAY", &cfg.DBConnectDelay},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c Config) Validate() error {
	switch c.PersonDeletePolicy {
	case model.DeleteRestrict, model.DeleteCascade:
	default:
		return fmt.Errorf("person_delete_policy must be %q or %q, got %q", model.DeleteRestrict, model.DeleteCascade, c.PersonDeletePolicy)
	}
	if c.PresenceExpiry <= 0 {
		return fmt.Errorf("presence_expiry must be positive, got %s", c.PresenceExpiry)
	}
	if c.DBConnectAttempts == 0 {
		return errors.New("db_connect_attempts must be at least 1")
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	return nil
}

func (c Config) Debug() bool {
	return c.LogLevel == "debug"
}
