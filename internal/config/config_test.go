// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-approve/internal/decision"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approve.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalMatrix = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  access_token: "syt_secret"
  room_id: "!room:example.org"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9000"
`+minimalMatrix+`
approvals:
  default_timeout: "2m"
  max_timeout: "8m"
  auto_allow:
    - read
    - fetch

sessions:
  palette_size: 4

database:
  path: "./approve.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("expected http_addr 0.0.0.0:9000, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("unexpected homeserver: %s", cfg.Matrix.Homeserver)
	}
	if cfg.Approvals.DefaultTimeout != 2*time.Minute {
		t.Errorf("expected default_timeout 2m, got %v", cfg.Approvals.DefaultTimeout)
	}
	if cfg.Approvals.MaxTimeout != 8*time.Minute {
		t.Errorf("expected max_timeout 8m, got %v", cfg.Approvals.MaxTimeout)
	}
	want := []decision.Category{decision.CategoryRead, decision.CategoryFetch}
	if len(cfg.Approvals.AutoAllowCategories) != len(want) {
		t.Fatalf("expected %d auto-allow categories, got %d", len(want), len(cfg.Approvals.AutoAllowCategories))
	}
	for i, c := range want {
		if cfg.Approvals.AutoAllowCategories[i] != c {
			t.Errorf("auto-allow[%d]: expected %v, got %v", i, c, cfg.Approvals.AutoAllowCategories[i])
		}
	}
	if cfg.Sessions.PaletteSize != 4 {
		t.Errorf("expected palette_size 4, got %d", cfg.Sessions.PaletteSize)
	}
	if cfg.Database.Path != "./approve.db" {
		t.Errorf("unexpected database path: %s", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalMatrix))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:19280" {
		t.Errorf("expected default http_addr, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Approvals.DefaultTimeout != 5*time.Minute {
		t.Errorf("expected default timeout 5m, got %v", cfg.Approvals.DefaultTimeout)
	}
	if cfg.Approvals.MaxTimeout != 10*time.Minute {
		t.Errorf("expected max timeout 10m, got %v", cfg.Approvals.MaxTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "syt_from_env")

	cfg, err := Load(writeConfig(t, `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  access_token: "${TEST_MATRIX_TOKEN}"
  room_id: "!room:example.org"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Matrix.AccessToken != "syt_from_env" {
		t.Errorf("expected token from env, got %q", cfg.Matrix.AccessToken)
	}
}

func TestLoad_MissingEnvVarBecomesEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@bot:example.org"
  access_token: "${DEFINITELY_NOT_SET_VAR_12345}"
  room_id: "!room:example.org"
`))
	// Expansion yields "", which validation rejects.
	if err == nil || !strings.Contains(err.Error(), "access_token") {
		t.Errorf("expected access_token validation error, got %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalMatrix+`
approvals:
  default_timeout: "five minutes"
`))
	if err == nil || !strings.Contains(err.Error(), "default_timeout") {
		t.Errorf("expected duration parse error, got %v", err)
	}
}

func TestLoad_MaxTimeoutBelowDefault(t *testing.T) {
	_, err := Load(writeConfig(t, minimalMatrix+`
approvals:
  default_timeout: "10m"
  max_timeout: "1m"
`))
	if err == nil || !strings.Contains(err.Error(), "max_timeout") {
		t.Errorf("expected max_timeout validation error, got %v", err)
	}
}

func TestLoad_UnknownAutoAllowCategory(t *testing.T) {
	_, err := Load(writeConfig(t, minimalMatrix+`
approvals:
  auto_allow:
    - teleport
`))
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Errorf("expected unknown category error, got %v", err)
	}
}

func TestLoad_QuestionCannotBeAutoAllowed(t *testing.T) {
	_, err := Load(writeConfig(t, minimalMatrix+`
approvals:
  auto_allow:
    - question
`))
	if err == nil || !strings.Contains(err.Error(), "question") {
		t.Errorf("expected question rejection, got %v", err)
	}
}

func TestLoad_MissingRequiredMatrixFields(t *testing.T) {
	for _, field := range []string{"homeserver", "user_id", "access_token", "room_id"} {
		content := minimalMatrix
		content = strings.Replace(content, field, "x_"+field, 1)
		_, err := Load(writeConfig(t, content))
		if err == nil {
			t.Errorf("expected error when %s missing", field)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/approve.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
