package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "DATABASE_URL", "SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET", "API_TOKEN", "SLACK_API_URL",
	"GITHUB_TOKEN", "GITHUB_API_URL", "GITHUB_HOST", "LOG_LEVEL", "PERSON_DELETE_POLICY",
	"NEW_MEMBERS_ARE_REVIEWERS", "DB_CONNECT_ATTEMPTS", "PRESENCE_EXPIRY", "DB_CONNECT_DELAY",
}

// clearEnv blanks every recognised variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Minute, cfg.PresenceExpiry)
	assert.True(t, cfg.NewMembersAreReviewers)
	assert.Equal(t, model.DeleteRestrict, cfg.PersonDeletePolicy)
	assert.False(t, cfg.Debug())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
port: "9000"
slack_bot_token: xoxb-from-file
github_host: github.example.com
presence_expiry: 5m
new_members_are_reviewers: false
person_delete_policy: cascade
db_connect_attempts: 3
api_token: from-file
`)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-from-env")
	t.Setenv("API_TOKEN", "from-env")
	t.Setenv("DB_CONNECT_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "xoxb-from-env", cfg.SlackBotToken)
	assert.Equal(t, "from-env", cfg.APIToken)
	assert.Equal(t, "github.example.com", cfg.GitHubHost)
	assert.Equal(t, 5*time.Minute, cfg.PresenceExpiry)
	assert.False(t, cfg.NewMembersAreReviewers)
	assert.Equal(t, model.DeleteCascade, cfg.PersonDeletePolicy)
	assert.Equal(t, uint(3), cfg.DBConnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.DBConnectDelay)
}

func TestLoad_EnvOverridesBooleans(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEW_MEMBERS_ARE_REVIEWERS", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.NewMembersAreReviewers)
	assert.True(t, cfg.Debug())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		yaml string
	}{
		{name: "unknown delete policy", env: map[string]string{"PERSON_DELETE_POLICY": "nuke"}},
		{name: "zero expiry", yaml: "presence_expiry: 0s\n"},
		{name: "negative expiry", env: map[string]string{"PRESENCE_EXPIRY": "-1m"}},
		{name: "bad duration", env: map[string]string{"PRESENCE_EXPIRY": "soon"}},
		{name: "bad bool", env: map[string]string{"NEW_MEMBERS_ARE_REVIEWERS": "maybe"}},
		{name: "bad attempts", env: map[string]string{"DB_CONNECT_ATTEMPTS": "-2"}},
		{name: "bad yaml", yaml: "port: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeYAML(t, tt.yaml)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
