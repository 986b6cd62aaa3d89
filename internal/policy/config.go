package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rootguard/internal/capability"
	"github.com/ppiankov/rootguard/internal/model"
	"github.com/ppiankov/rootguard/internal/probe"
)

// maxProbeTimeout keeps a misconfigured timeout from turning the guard
// into a stall.
const maxProbeTimeout = 5 * time.Second

// Config holds the guard's static configuration. It is read-only once
// loaded.
type Config struct {
	DangerousCapabilities []string              `yaml:"dangerous_capabilities"`
	NamespacePolicy       model.NamespacePolicy `yaml:"namespace_policy"`
	RecoverableRoot       bool                  `yaml:"recoverable_root"`
	ProbeTimeout          time.Duration         `yaml:"probe_timeout"`
	AuditLog              string                `yaml:"audit_log"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	caps := make([]string, len(capability.DefaultDangerous))
	copy(caps, capability.DefaultDangerous)
	return &Config{
		DangerousCapabilities: caps,
		NamespacePolicy:       model.TreatAsPrivileged,
		RecoverableRoot:       true,
		ProbeTimeout:          probe.DefaultTimeout,
	}
}

// SystemDir holds the machine-wide config written by "rootguard init --mode system".
const SystemDir = "/etc/rootguard"

// DefaultDir returns ~/.rootguard, or "" when home is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rootguard")
}

// DefaultPath returns ~/.rootguard/config.yaml, or "" when home is unknown.
func DefaultPath() string {
	dir := DefaultDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// ResolvePath picks the config file used when none is given: the user
// file if it exists, else the system file if it exists, else the user
// path.
func ResolvePath() string {
	user := DefaultPath()
	if user != "" {
		if _, err := os.Stat(user); err == nil {
			return user
		}
	}
	system := filepath.Join(SystemDir, "config.yaml")
	if _, err := os.Stat(system); err == nil {
		return system
	}
	return user
}

// Validate normalizes capability names and rejects values that would
// weaken the guard silently.
func (c *Config) Validate() error {
	if !c.NamespacePolicy.Valid() {
		return fmt.Errorf("namespace_policy must be %q or %q, got %q",
			model.TreatAsPrivileged, model.TreatAsUnprivileged, c.NamespacePolicy)
	}

	var caps []string
	for _, name := range c.DangerousCapabilities {
		if n := capability.Normalize(name); n != "" {
			caps = append(caps, n)
		}
	}
	if len(caps) == 0 {
		return fmt.Errorf("dangerous_capabilities must not be empty")
	}
	c.DangerousCapabilities = caps

	if c.ProbeTimeout <= 0 || c.ProbeTimeout > maxProbeTimeout {
		return fmt.Errorf("probe_timeout must be in (0, %s], got %s", maxProbeTimeout, c.ProbeTimeout)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ResolvePath.
// Missing file returns defaults. Invalid YAML or values return an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns the SHA-256 of the
// raw file bytes. When no file exists the hash is that of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = ResolvePath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, hash, nil
}

// DefaultConfigYAML returns a commented YAML string for rootguard init.
func DefaultConfigYAML() string {
	return `# rootguard configuration
# Generated by: rootguard init
#
# Decision order (cannot be changed):
#   1. Identity unavailable          -> privileged (heuristic)
#   2. Root remapped by a namespace  -> namespace_policy
#   3. Effective UID 0               -> privileged
#   4. Real or saved UID 0           -> privileged (recoverable_root)
#   5. Dangerous capability held     -> privileged
#   6. Otherwise                     -> not privileged

# Capabilities that make a non-root process root-equivalent.
# Names are case-insensitive; the cap_ prefix is optional.
dangerous_capabilities:
  - cap_sys_admin
  - cap_dac_override
  - cap_dac_read_search
  - cap_fowner
  - cap_setuid
  - cap_setgid

# How to treat UID 0 inside a user namespace that maps to an
# unprivileged host UID: treat_as_privileged | treat_as_unprivileged
namespace_policy: treat_as_privileged

# Treat a process whose real or saved UID is 0 as privileged even when
# its effective UID is not (it can seteuid back to root).
recoverable_root: true

# Upper bound for each individual OS probe.
probe_timeout: 250ms

# Hash-chained JSONL audit log of every verdict. Empty disables it.
audit_log: ""
`
}
