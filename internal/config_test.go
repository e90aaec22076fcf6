package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/inkbuild/internal/resolver"
	pkgconfig "github.com/starford/inkbuild/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestWorkspaceConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig().Workspace
	cfg.Scripts = []string{"**/*.ink", "[broken"}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid glob should fail validation")
	}

	cfg = NewDefaultConfig().Workspace
	cfg.Resolution = "absolute"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown resolution should fail validation")
	}

	cfg = NewDefaultConfig().Workspace
	cfg.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty root should fail validation")
	}
}

func TestWorkspaceConfig_Mode(t *testing.T) {
	cfg := WorkspaceConfig{Resolution: "root"}
	if cfg.Mode() != resolver.ModeRootRelative {
		t.Errorf("mode = %q", cfg.Mode())
	}
	cfg.Resolution = ""
	if cfg.Mode() != resolver.ModeRelative {
		t.Errorf("empty mode = %q", cfg.Mode())
	}
}

func TestBuildConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig().Build
	cfg.CacheCapacity = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero cache capacity should fail validation")
	}

	cfg = NewDefaultConfig().Build
	cfg.Emit = true
	cfg.OutDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("emit without out_dir should fail validation")
	}

	cfg = NewDefaultConfig().Build
	cfg.Debounce = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative debounce should fail validation")
	}
}

func TestConfig_LoadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  log_level: debug
  http:
    port: 9090
workspace:
  root: ./story
  resolution: root
build:
  cache_capacity: 8
  debounce: 300ms
  emit: true
  out_dir: build
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Workspace.Root != "./story" || cfg.Workspace.Mode() != resolver.ModeRootRelative {
		t.Errorf("workspace = %+v", cfg.Workspace)
	}
	// Unset lists keep their defaults.
	if len(cfg.Workspace.Scripts) != 1 || cfg.Workspace.Scripts[0] != "**/*.ink" {
		t.Errorf("scripts = %v", cfg.Workspace.Scripts)
	}
	if cfg.Build.CacheCapacity != 8 || cfg.Build.Debounce != 300*time.Millisecond || !cfg.Build.Emit || cfg.Build.OutDir != "build" {
		t.Errorf("build = %+v", cfg.Build)
	}
}
