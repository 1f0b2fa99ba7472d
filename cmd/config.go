package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"capsule-run/schema"
)

// Config is capsule-run's file-based configuration: built-in defaults, a
// set of named profiles an operator can select with --profile, and a
// security denylist, layered underneath a request's own explicit
// fields. Grounded in original_source/src/config.rs's Config/
// DefaultConfig/ExecutionProfile/SecurityConfig shape.
type Config struct {
	Defaults   DefaultConfig               `toml:"defaults" json:"defaults"`
	Profiles   map[string]ExecutionProfile `toml:"profiles" json:"profiles"`
	Security   SecurityConfig              `toml:"security" json:"security"`
	Monitoring MonitoringConfig            `toml:"monitoring" json:"monitoring"`
}

// DefaultConfig holds the timeout, resource, and isolation values a
// request falls back to when it omits them.
type DefaultConfig struct {
	TimeoutMS uint64                 `toml:"timeout_ms" json:"timeout_ms"`
	Resources schema.ResourceLimits  `toml:"resources" json:"resources"`
	Isolation schema.IsolationConfig `toml:"isolation" json:"isolation"`
}

// ExecutionProfile is a named override bundle selected with --profile.
// Unset fields fall through to DefaultConfig.
type ExecutionProfile struct {
	Description *string                 `toml:"description,omitempty" json:"description,omitempty"`
	TimeoutMS   *uint64                 `toml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Resources   *schema.ResourceLimits  `toml:"resources,omitempty" json:"resources,omitempty"`
	Isolation   *schema.IsolationConfig `toml:"isolation,omitempty" json:"isolation,omitempty"`
	Environment map[string]string       `toml:"environment,omitempty" json:"environment,omitempty"`
}

// SecurityConfig is the command-policy portion of the config file.
type SecurityConfig struct {
	AllowedCommands []string `toml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	BlockedCommands []string `toml:"blocked_commands,omitempty" json:"blocked_commands,omitempty"`
}

// MonitoringConfig mirrors original_source's monitoring block. It is
// loaded with the rest of the config file, but nothing acts on it: the
// engine always samples at monitor.DefaultInterval, and the Rust
// original's Prometheus metrics export is left out entirely.
type MonitoringConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	IntervalMS uint64 `toml:"interval_ms" json:"interval_ms"`
}

// defaultBlockedCommands mirrors original_source/src/config.rs's default
// denylist.
var defaultBlockedCommands = []string{"rm", "rmdir", "sudo", "su", "chmod", "chown"}

// DefaultConfigValue returns capsule-run's built-in configuration, used
// when no --config file is given.
func DefaultConfigValue() Config {
	return Config{
		Defaults: DefaultConfig{
			TimeoutMS: schema.DefaultTimeoutMS,
			Resources: schema.DefaultResourceLimits(),
			Isolation: schema.DefaultIsolationConfig(),
		},
		Profiles: map[string]ExecutionProfile{},
		Security: SecurityConfig{
			BlockedCommands: append([]string(nil), defaultBlockedCommands...),
		},
		Monitoring: MonitoringConfig{Enabled: true, IntervalMS: 50},
	}
}

// LoadConfig reads a config file, choosing TOML or JSON by extension the
// same way original_source/src/config.rs does. An empty path returns the
// built-in defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfigValue()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse JSON config %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse TOML config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyProfile layers the named profile's overrides (if any) over c's
// built-in defaults, then fills any field req itself left unset. A
// request's own explicit fields always win; a named profile always wins
// over the bare defaults. An unknown profile name is silently ignored,
// same as original_source's get_profile/merge_with_profile.
func (c Config) ApplyProfile(profileName string, req *schema.ExecutionRequest) {
	base := c.Defaults
	var profileEnv map[string]string

	if profileName != "" {
		if p, ok := c.Profiles[profileName]; ok {
			if p.TimeoutMS != nil {
				base.TimeoutMS = *p.TimeoutMS
			}
			if p.Resources != nil {
				base.Resources = *p.Resources
			}
			if p.Isolation != nil {
				base.Isolation = *p.Isolation
			}
			profileEnv = p.Environment
		}
	}

	if req.TimeoutMS == 0 {
		req.TimeoutMS = base.TimeoutMS
	}
	if req.Resources.MemoryBytes == 0 {
		req.Resources.MemoryBytes = base.Resources.MemoryBytes
	}
	if req.Resources.CPUShares == 0 {
		req.Resources.CPUShares = base.Resources.CPUShares
	}
	if req.Resources.MaxOutputBytes == 0 {
		req.Resources.MaxOutputBytes = base.Resources.MaxOutputBytes
	}
	if req.Resources.MaxPids == 0 {
		req.Resources.MaxPids = base.Resources.MaxPids
	}
	if req.Isolation.WorkingDirectory == "" {
		req.Isolation.WorkingDirectory = base.Isolation.WorkingDirectory
	}
	if !req.Isolation.Network {
		req.Isolation.Network = base.Isolation.Network
	}
	if len(req.Isolation.ReadonlyPaths) == 0 {
		req.Isolation.ReadonlyPaths = base.Isolation.ReadonlyPaths
	}
	if len(req.Isolation.WritablePaths) == 0 {
		req.Isolation.WritablePaths = base.Isolation.WritablePaths
	}
	if len(req.Isolation.BindMounts) == 0 {
		req.Isolation.BindMounts = base.Isolation.BindMounts
	}

	for k, v := range profileEnv {
		if req.Environment == nil {
			req.Environment = map[string]string{}
		}
		if _, exists := req.Environment[k]; !exists {
			req.Environment[k] = v
		}
	}
}

// ValidateCommand reports whether command[0] is permitted by the
// configured security policy: rejected if it matches a blocked-command
// substring, otherwise allowed unless an allow list is configured and
// it fails to match any entry there.
func (c Config) ValidateCommand(command []string) bool {
	if len(command) == 0 {
		return false
	}
	name := command[0]

	for _, blocked := range c.Security.BlockedCommands {
		if strings.Contains(name, blocked) {
			return false
		}
	}

	if len(c.Security.AllowedCommands) > 0 {
		for _, allowed := range c.Security.AllowedCommands {
			if strings.Contains(name, allowed) {
				return true
			}
		}
		return false
	}

	return true
}
