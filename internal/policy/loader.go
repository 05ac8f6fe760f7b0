package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads policy.yaml. A missing file yields an empty policy: the
// built-in tiers still apply.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &policy, nil
}

func DefaultPolicy() *Policy {
	return &Policy{Version: "1"}
}

// Validate checks that every rule has an id, an action and a matcher.
func (p *Policy) Validate() error {
	seen := make(map[string]bool)
	for i, r := range p.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.Action != ActionBlock && r.Action != ActionAllow {
			return fmt.Errorf("rule %s: action must be %q or %q", r.ID, ActionBlock, ActionAllow)
		}
		m := r.Match
		if m.CommandExact == "" && len(m.CommandPrefix) == 0 && m.CommandRegex == "" && len(m.PathGlob) == 0 && m.Structural == nil {
			return fmt.Errorf("rule %s: empty match", r.ID)
		}
	}
	return nil
}
