package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePack(t *testing.T, dir, name, data string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPacks_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	base := DefaultPolicy()

	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected 0 pack infos, got %d", len(infos))
	}
	if len(result.Rules) != len(base.Rules) {
		t.Errorf("expected %d rules, got %d", len(base.Rules), len(result.Rules))
	}
}

func TestLoadPacks_NonExistentDir(t *testing.T) {
	base := DefaultPolicy()
	result, _, err := LoadPacks("/nonexistent/path/packs", base)
	if err != nil {
		t.Fatalf("unexpected error for non-existent dir: %v", err)
	}
	if result != base {
		t.Errorf("expected base policy returned unchanged")
	}
}

func TestLoadPacks_MergesRules(t *testing.T) {
	dir := t.TempDir()
	base := DefaultPolicy()

	writePack(t, dir, "infra.yaml", `
name: "Infra Pack"
description: "Blocks infrastructure teardown"
version: "1.0.0"
author: "Platform"
rules:
  - id: "infra-terraform-destroy"
    match:
      structural:
        executable: terraform
        subcommand: destroy
    action: block
    reason: "terraform destroy goes through CI"
  - id: "infra-allow-plan"
    match:
      command_prefix: ["terraform plan"]
    action: allow
    reason: "plan is read-only"
`)
	writePack(t, dir, "README.md", "not a pack")

	result, infos, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 pack info, got %d", len(infos))
	}
	if infos[0].Name != "Infra Pack" || infos[0].RuleCount != 2 || !infos[0].Enabled {
		t.Errorf("unexpected info %+v", infos[0])
	}
	if len(result.Rules) != 2 {
		t.Errorf("expected 2 merged rules, got %d", len(result.Rules))
	}
}

func TestLoadPacks_DisabledPack(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "_disabled.yaml", `
name: "Disabled Pack"
rules:
  - id: "disabled-rule"
    match:
      command_exact: "should-not-apply"
    action: block
    reason: "Should not be loaded"
`)

	result, infos, err := LoadPacks(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 1 || infos[0].Enabled {
		t.Fatalf("expected one disabled pack, got %+v", infos)
	}
	if len(result.Rules) != 0 {
		t.Errorf("disabled pack rules should not merge, got %d", len(result.Rules))
	}
}

func TestLoadPacks_BrokenPackReported(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "broken.yml", "rules:\n  - id: x\n    action: maybe\n    match: {command_exact: y}\n")

	result, infos, err := LoadPacks(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("a broken pack must not fail the load: %v", err)
	}
	if len(infos) != 1 || infos[0].Err == nil {
		t.Fatalf("expected the broken pack to be reported, got %+v", infos)
	}
	if len(result.Rules) != 0 {
		t.Errorf("broken pack rules merged")
	}
}

func TestLoadPacks_MergesProtectedPaths(t *testing.T) {
	dir := t.TempDir()
	base := &Policy{ProtectedPaths: []string{"~/.vault/**"}}

	writePack(t, dir, "paths.yaml", `
name: "Path Pack"
protected_paths:
  - "~/.terraform.d/**"
  - "/srv/secrets/*"
  - "~/.vault/**"
`)

	result, _, err := LoadPacks(dir, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// ~/.vault/** already exists in base
	if len(result.ProtectedPaths) != 3 {
		t.Errorf("expected 3 protected paths, got %v", result.ProtectedPaths)
	}
}

func TestLoadPacks_DuplicateIDsAcrossPacks(t *testing.T) {
	dir := t.TempDir()
	rule := `
rules:
  - id: "same"
    match: {command_exact: "x"}
    action: block
    reason: "dup"
`
	writePack(t, dir, "a.yaml", rule)
	writePack(t, dir, "b.yaml", rule)

	if _, _, err := LoadPacks(dir, DefaultPolicy()); err == nil {
		t.Error("expected duplicate rule ids across packs to be rejected")
	}
}

func TestLoadPacks_DoesNotMutateBase(t *testing.T) {
	dir := t.TempDir()
	base := &Policy{ProtectedPaths: []string{"~/.vault/**"}}

	writePack(t, dir, "mutation.yaml", `
name: "Mutation Test"
protected_paths:
  - "~/.extra/**"
rules:
  - id: "extra-rule"
    match:
      command_exact: "extra"
    action: block
    reason: "Extra"
`)

	if _, _, err := LoadPacks(dir, base); err != nil {
		t.Fatal(err)
	}
	if len(base.Rules) != 0 {
		t.Errorf("base rules were mutated: %d", len(base.Rules))
	}
	if len(base.ProtectedPaths) != 1 {
		t.Errorf("base protected paths were mutated: %v", base.ProtectedPaths)
	}
}
