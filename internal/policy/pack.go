package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack is a named bundle of rules dropped into the packs directory.
// We avoid yaml:",inline" because Policy also has a `version` field.
type Pack struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	PackVersion    string   `yaml:"version"`
	Author         string   `yaml:"author"`
	ProtectedPaths []string `yaml:"protected_paths"`
	Rules          []Rule   `yaml:"rules"`
}

// PackInfo is a summary of a pack for listing.
type PackInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	Enabled     bool
	Path        string
	RuleCount   int
	Err         error
}

// LoadPacks reads all .yaml files from the packs directory and merges them
// into the base policy. Rules from packs are appended after the base rules.
// Protected paths are unioned. Files prefixed with "_" are listed but not
// merged; files that fail to parse or validate are reported and skipped.
func LoadPacks(packsDir string, base *Policy) (*Policy, []PackInfo, error) {
	var infos []PackInfo

	entries, err := os.ReadDir(packsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil, nil
		}
		return nil, nil, err
	}

	result := clonePolicy(base)

	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(packsDir, entry.Name())
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := loadPack(path)
		if err != nil {
			infos = append(infos, PackInfo{Name: baseName, Enabled: enabled, Path: path, Err: err})
			continue
		}

		info := PackInfo{
			Name:        pack.Name,
			Description: pack.Description,
			Version:     pack.PackVersion,
			Author:      pack.Author,
			Enabled:     enabled,
			Path:        path,
			RuleCount:   len(pack.Rules),
		}
		if info.Name == "" {
			info.Name = baseName
		}
		infos = append(infos, info)

		if !enabled {
			continue
		}
		mergePackInto(result, pack)
	}

	if err := result.Validate(); err != nil {
		return nil, infos, err
	}
	return result, infos, nil
}

func loadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack %s: %w", path, err)
	}
	if err := (&Policy{Rules: pack.Rules}).Validate(); err != nil {
		return nil, fmt.Errorf("pack %s: %w", path, err)
	}
	return &pack, nil
}

func mergePackInto(target *Policy, pack *Pack) {
	target.Rules = append(target.Rules, pack.Rules...)

	existing := make(map[string]bool)
	for _, p := range target.ProtectedPaths {
		existing[p] = true
	}
	for _, p := range pack.ProtectedPaths {
		if !existing[p] {
			target.ProtectedPaths = append(target.ProtectedPaths, p)
		}
	}
}

func clonePolicy(p *Policy) *Policy {
	clone := &Policy{Version: p.Version}
	clone.ProtectedPaths = append([]string(nil), p.ProtectedPaths...)
	clone.Rules = append([]Rule(nil), p.Rules...)
	return clone
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
