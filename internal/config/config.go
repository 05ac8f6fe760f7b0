package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir   = ".agentgate"
	DefaultConfigFile  = "config.yaml"
	DefaultPolicyFile  = "policy.yaml"
	DefaultLogFile     = "audit.jsonl"
	DefaultApprovalDir = "approvals"
	DefaultPacksDir    = "packs"

	DefaultApprovalTTL = 600 * time.Second
	DefaultScanLimit   = 256 * 1024
)

// Environment variables that point at the working project. The first one
// set wins.
var projectRootEnv = []string{"AGENTGATE_PROJECT_DIR", "CLAUDE_PROJECT_DIR"}

// fixedSafePrefixes are always writable regardless of project root.
var fixedSafePrefixes = []string{
	"/tmp",
	"/var/tmp",
	"/private/tmp",
	"/private/var/folders",
	"/dev/null",
	"/dev/stdout",
	"/dev/stderr",
}

type Config struct {
	ConfigDir   string
	LogPath     string
	PolicyPath  string
	ApprovalDir string
	PacksDir    string

	// ProjectRoot is the boundary for scope checks. Empty means "use the
	// event's working directory".
	ProjectRoot string

	ApprovalTTL    time.Duration
	SafePrefixes   []string
	ScanLimit      int
	DisabledGuards []string
}

// Options carry command-line overrides. Zero values mean "not set".
type Options struct {
	ConfigDir   string
	LogPath     string
	ProjectRoot string
	ApprovalTTL time.Duration
}

// fileConfig is the on-disk shape of config.yaml.
type fileConfig struct {
	ApprovalTTL    time.Duration `yaml:"approval_ttl"`
	ProjectRoot    string        `yaml:"project_root"`
	SafePrefixes   []string      `yaml:"safe_path_prefixes"`
	ScanLimit      int           `yaml:"scan_limit_bytes"`
	DisabledGuards []string      `yaml:"disabled_guards"`
}

func Load(opts Options) (*Config, error) {
	configDir := opts.ConfigDir
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(homeDir, DefaultConfigDir)
	}

	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigDir:   configDir,
		LogPath:     filepath.Join(configDir, DefaultLogFile),
		PolicyPath:  filepath.Join(configDir, DefaultPolicyFile),
		ApprovalDir: filepath.Join(configDir, DefaultApprovalDir),
		PacksDir:    filepath.Join(configDir, DefaultPacksDir),
		ApprovalTTL: DefaultApprovalTTL,
		ScanLimit:   DefaultScanLimit,
	}

	fc, err := readFile(filepath.Join(configDir, DefaultConfigFile))
	if err != nil {
		return nil, err
	}
	if fc.ApprovalTTL > 0 {
		cfg.ApprovalTTL = fc.ApprovalTTL
	}
	if fc.ScanLimit > 0 {
		cfg.ScanLimit = fc.ScanLimit
	}
	cfg.ProjectRoot = fc.ProjectRoot
	cfg.SafePrefixes = fc.SafePrefixes
	cfg.DisabledGuards = fc.DisabledGuards

	for _, name := range projectRootEnv {
		if v := os.Getenv(name); v != "" {
			cfg.ProjectRoot = v
			break
		}
	}

	if opts.LogPath != "" {
		cfg.LogPath = opts.LogPath
	}
	if opts.ProjectRoot != "" {
		cfg.ProjectRoot = opts.ProjectRoot
	}
	if opts.ApprovalTTL > 0 {
		cfg.ApprovalTTL = opts.ApprovalTTL
	}

	return cfg, nil
}

// ResolveProjectRoot returns the configured project root, falling back to
// cwd and then to the process working directory.
func (c *Config) ResolveProjectRoot(cwd string) string {
	root := c.ProjectRoot
	if root == "" {
		root = cwd
	}
	if root == "" {
		root, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	return root
}

// AllowedPrefixes is the fixed write allowlist plus the gateway's own
// config directory and any user-configured prefixes. The policy engine
// hard-blocks writes into the config directory before scope is consulted.
func (c *Config) AllowedPrefixes() []string {
	out := make([]string, 0, len(fixedSafePrefixes)+len(c.SafePrefixes)+2)
	out = append(out, fixedSafePrefixes...)
	if tmp := filepath.Clean(os.TempDir()); tmp != "/tmp" {
		out = append(out, tmp)
	}
	out = append(out, c.ConfigDir)
	out = append(out, c.SafePrefixes...)
	return out
}

// GuardEnabled reports whether the named guard family is active.
func (c *Config) GuardEnabled(name string) bool {
	for _, g := range c.DisabledGuards {
		if g == name {
			return false
		}
	}
	return true
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
