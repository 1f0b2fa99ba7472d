package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"capsule-run/schema"
)

func TestDefaultConfigValue(t *testing.T) {
	cfg := DefaultConfigValue()

	if cfg.Defaults.TimeoutMS != schema.DefaultTimeoutMS {
		t.Errorf("Defaults.TimeoutMS = %d, want %d", cfg.Defaults.TimeoutMS, schema.DefaultTimeoutMS)
	}
	if len(cfg.Security.BlockedCommands) == 0 {
		t.Error("expected a non-empty default blocked-commands list")
	}
	if !cfg.Monitoring.Enabled {
		t.Error("expected monitoring enabled by default")
	}
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") returned error: %v", err)
	}
	want := DefaultConfigValue()
	if cfg.Defaults.TimeoutMS != want.Defaults.TimeoutMS {
		t.Errorf("got TimeoutMS %d, want %d", cfg.Defaults.TimeoutMS, want.Defaults.TimeoutMS)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capsule.toml")
	contents := `
[defaults]
timeout_ms = 5000

[security]
blocked_commands = ["rm", "curl"]

[profiles.fast]
timeout_ms = 1000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if cfg.Defaults.TimeoutMS != 5000 {
		t.Errorf("Defaults.TimeoutMS = %d, want 5000", cfg.Defaults.TimeoutMS)
	}
	if len(cfg.Security.BlockedCommands) != 2 {
		t.Errorf("BlockedCommands = %v, want 2 entries", cfg.Security.BlockedCommands)
	}
	profile, ok := cfg.Profiles["fast"]
	if !ok {
		t.Fatal("expected profile \"fast\" to be loaded")
	}
	if profile.TimeoutMS == nil || *profile.TimeoutMS != 1000 {
		t.Errorf("profile fast TimeoutMS = %v, want 1000", profile.TimeoutMS)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capsule.json")
	contents := `{"defaults": {"timeout_ms": 9000}, "security": {"allowed_commands": ["echo"]}}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if cfg.Defaults.TimeoutMS != 9000 {
		t.Errorf("Defaults.TimeoutMS = %d, want 9000", cfg.Defaults.TimeoutMS)
	}
	if len(cfg.Security.AllowedCommands) != 1 || cfg.Security.AllowedCommands[0] != "echo" {
		t.Errorf("AllowedCommands = %v, want [echo]", cfg.Security.AllowedCommands)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/capsule.toml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_ApplyProfile_FillsUnsetFields(t *testing.T) {
	timeout := uint64(2000)
	cfg := Config{
		Defaults: DefaultConfig{
			TimeoutMS: schema.DefaultTimeoutMS,
			Resources: schema.DefaultResourceLimits(),
			Isolation: schema.DefaultIsolationConfig(),
		},
		Profiles: map[string]ExecutionProfile{
			"quick": {
				TimeoutMS:   &timeout,
				Environment: map[string]string{"FOO": "bar"},
			},
		},
	}

	req := &schema.ExecutionRequest{Command: []string{"echo", "hi"}}
	cfg.ApplyProfile("quick", req)

	if req.TimeoutMS != timeout {
		t.Errorf("TimeoutMS = %d, want %d", req.TimeoutMS, timeout)
	}
	if req.Environment["FOO"] != "bar" {
		t.Errorf("Environment[FOO] = %q, want \"bar\"", req.Environment["FOO"])
	}
}

func TestConfig_ApplyProfile_RequestFieldsWin(t *testing.T) {
	timeout := uint64(2000)
	cfg := Config{
		Defaults: DefaultConfig{TimeoutMS: schema.DefaultTimeoutMS},
		Profiles: map[string]ExecutionProfile{
			"quick": {TimeoutMS: &timeout},
		},
	}

	req := &schema.ExecutionRequest{Command: []string{"echo"}, TimeoutMS: 42}
	cfg.ApplyProfile("quick", req)

	if req.TimeoutMS != 42 {
		t.Errorf("TimeoutMS = %d, want request's own 42 to win", req.TimeoutMS)
	}
}

func TestConfig_ApplyProfile_UnknownProfileIgnored(t *testing.T) {
	cfg := Config{Defaults: DefaultConfig{TimeoutMS: 7000}}
	req := &schema.ExecutionRequest{Command: []string{"echo"}}

	cfg.ApplyProfile("does-not-exist", req)

	if req.TimeoutMS != 7000 {
		t.Errorf("TimeoutMS = %d, want default 7000 applied despite unknown profile", req.TimeoutMS)
	}
}

func TestConfig_ValidateCommand(t *testing.T) {
	cfg := Config{Security: SecurityConfig{BlockedCommands: []string{"rm", "sudo"}}}

	tests := []struct {
		name    string
		command []string
		want    bool
	}{
		{"allowed", []string{"echo", "hi"}, true},
		{"blocked exact", []string{"rm", "-rf", "/"}, false},
		{"blocked substring in path", []string{"/usr/bin/sudo"}, false},
		{"empty command", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ValidateCommand(tt.command); got != tt.want {
				t.Errorf("ValidateCommand(%v) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestConfig_ValidateCommand_AllowList(t *testing.T) {
	cfg := Config{Security: SecurityConfig{AllowedCommands: []string{"echo", "cat"}}}

	if !cfg.ValidateCommand([]string{"echo", "hi"}) {
		t.Error("expected \"echo\" to be allowed")
	}
	if cfg.ValidateCommand([]string{"rm", "-rf", "/"}) {
		t.Error("expected \"rm\" to be rejected when not on the allow list")
	}
}
