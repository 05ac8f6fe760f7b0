package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClaudeHooks_InstallAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".claude", "settings.json")

	settings, err := readJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// A hook from another tool must survive both operations.
	settings["hooks"] = map[string]interface{}{
		"PreToolUse": []interface{}{
			map[string]interface{}{
				"matcher": "Bash",
				"hooks":   []interface{}{map[string]interface{}{"type": "command", "command": "other-tool check"}},
			},
		},
	}
	settings["model"] = "opus"

	if !installClaudeHooks(settings) {
		t.Fatal("first install should change settings")
	}
	if installClaudeHooks(settings) {
		t.Error("second install must be a no-op")
	}
	if err := writeJSONFile(path, settings); err != nil {
		t.Fatal(err)
	}

	reloaded, err := readJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	hooks := reloaded["hooks"].(map[string]interface{})
	if n := len(getSlice(hooks, "PreToolUse")); n != 2 {
		t.Errorf("PreToolUse entries = %d, want 2", n)
	}
	if n := len(getSlice(hooks, "PostToolUse")); n != 1 {
		t.Errorf("PostToolUse entries = %d, want 1", n)
	}

	if !removeClaudeHooks(reloaded) {
		t.Fatal("remove should report a change")
	}
	hooks = reloaded["hooks"].(map[string]interface{})
	pre := getSlice(hooks, "PreToolUse")
	if len(pre) != 1 || isGateHookEntry(pre[0]) {
		t.Errorf("other hooks must be kept: %v", pre)
	}
	if _, ok := hooks["PostToolUse"]; ok {
		t.Error("empty PostToolUse list should be removed")
	}
	if reloaded["model"] != "opus" {
		t.Error("unrelated settings must be preserved")
	}
	if removeClaudeHooks(reloaded) {
		t.Error("second remove must be a no-op")
	}
}

func TestFlatHooks_InstallAndRemove(t *testing.T) {
	cfg := map[string]interface{}{}
	entry := map[string]interface{}{"command": hookCommandLine}

	if !installFlatHooks(cfg, cursorEvents, entry) {
		t.Fatal("install should change config")
	}
	if installFlatHooks(cfg, cursorEvents, entry) {
		t.Error("install must be idempotent")
	}
	hooks := cfg["hooks"].(map[string]interface{})
	for _, ev := range cursorEvents {
		if len(getSlice(hooks, ev)) != 1 {
			t.Errorf("%s: expected one entry", ev)
		}
	}

	if !removeFlatHooks(cfg, cursorEvents) {
		t.Fatal("remove should change config")
	}
	if len(hooks) != 0 {
		t.Errorf("hooks should be empty, got %v", hooks)
	}
}

func TestReadJSONFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := writeJSONFile(path, map[string]interface{}{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := readJSONFile(path); err != nil {
		t.Fatalf("valid file: %v", err)
	}
	if err := writeFileRaw(path, "{nope"); err != nil {
		t.Fatal(err)
	}
	if _, err := readJSONFile(path); err == nil {
		t.Error("expected a parse error")
	}
}

func writeFileRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
