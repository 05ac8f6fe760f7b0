package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Missing(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "policy.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Rules) != 0 || len(p.ProtectedPaths) != 0 {
		t.Errorf("default policy should be empty: %+v", p)
	}
}

func TestLoad_StringOrList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `version: "1"
protected_paths:
  - "~/.vault/**"
rules:
  - id: block-shred
    action: block
    reason: secure erase
    match:
      structural:
        executable: shred
  - id: block-kube-delete
    action: block
    reason: cluster deletes
    match:
      structural:
        executable: [kubectl, oc]
        subcommand: delete
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Rules) != 2 {
		t.Fatalf("rules = %d", len(p.Rules))
	}
	if got := p.Rules[0].Match.Structural.Executable; len(got) != 1 || got[0] != "shred" {
		t.Errorf("single executable = %v", got)
	}
	if got := p.Rules[1].Match.Structural.Executable; len(got) != 2 || got[1] != "oc" {
		t.Errorf("executable list = %v", got)
	}
	if p.ProtectedPaths[0] != "~/.vault/**" {
		t.Errorf("protected paths = %v", p.ProtectedPaths)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "rules: [",
		"missing id":   "rules:\n  - action: block\n    match: {command_exact: x}\n",
		"bad action":   "rules:\n  - id: a\n    action: audit\n    match: {command_exact: x}\n",
		"empty match":  "rules:\n  - id: a\n    action: block\n",
		"duplicate id": "rules:\n  - id: a\n    action: block\n    match: {command_exact: x}\n  - id: a\n    action: allow\n    match: {command_exact: y}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			if err := os.WriteFile(path, []byte(data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
