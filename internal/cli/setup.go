package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

// hookCommandLine is what every host is configured to run.
const hookCommandLine = "agentgate hook"

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up agentgate for your coding agent",
	Long: `Install or remove the agentgate hook in an agent's settings.

  agentgate setup claude-code             # PreToolUse + PostToolUse hooks
  agentgate setup claude-code --disable   # remove them
  agentgate setup cursor                  # beforeShellExecution + beforeReadFile
  agentgate setup windsurf                # pre_run_command, pre_read_code, pre_write_code`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var setupClaudeCodeCmd = &cobra.Command{
	Use:   "claude-code",
	Short: "Set up agentgate for Claude Code",
	Long: `Install or remove the PreToolUse and PostToolUse hooks in
~/.claude/settings.json. Other hooks in the file are left alone.`,
	RunE: setupClaudeCodeCommand,
}

var setupCursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Set up agentgate for Cursor",
	RunE:  setupCursorCommand,
}

var setupWindsurfCmd = &cobra.Command{
	Use:   "windsurf",
	Short: "Set up agentgate for Windsurf",
	RunE:  setupWindsurfCommand,
}

var disableFlag bool

func init() {
	for _, c := range []*cobra.Command{setupClaudeCodeCmd, setupCursorCmd, setupWindsurfCmd} {
		c.Flags().BoolVar(&disableFlag, "disable", false, "Remove agentgate hooks")
		setupCmd.AddCommand(c)
	}
	rootCmd.AddCommand(setupCmd)
}

// claudeMatchers are the tool matchers registered per Claude Code event.
var claudeMatchers = map[string]string{
	"PreToolUse":  "Bash|Read|Write|Edit|MultiEdit|NotebookEdit|Grep|Glob|WebFetch|WebSearch",
	"PostToolUse": "Bash|Read|WebFetch|WebSearch",
}

var cursorEvents = []string{"beforeShellExecution", "beforeReadFile"}

var windsurfEvents = []string{"pre_run_command", "pre_read_code", "pre_write_code"}

func claudeSettingsPath() string {
	return filepath.Join(os.Getenv("HOME"), ".claude", "settings.json")
}

func cursorHooksPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cursor", "hooks.json")
}

func windsurfHooksPath() string {
	return filepath.Join(os.Getenv("HOME"), ".codeium", "windsurf", "hooks.json")
}

func setupClaudeCodeCommand(cmd *cobra.Command, args []string) error {
	return editHooksFile(claudeSettingsPath(), "Claude Code", func(settings map[string]interface{}) bool {
		if disableFlag {
			return removeClaudeHooks(settings)
		}
		return installClaudeHooks(settings)
	})
}

func setupCursorCommand(cmd *cobra.Command, args []string) error {
	return editHooksFile(cursorHooksPath(), "Cursor", func(cfg map[string]interface{}) bool {
		if disableFlag {
			return removeFlatHooks(cfg, cursorEvents)
		}
		if _, ok := cfg["version"]; !ok {
			cfg["version"] = 1
		}
		return installFlatHooks(cfg, cursorEvents, map[string]interface{}{"command": hookCommandLine})
	})
}

func setupWindsurfCommand(cmd *cobra.Command, args []string) error {
	return editHooksFile(windsurfHooksPath(), "Windsurf", func(cfg map[string]interface{}) bool {
		if disableFlag {
			return removeFlatHooks(cfg, windsurfEvents)
		}
		return installFlatHooks(cfg, windsurfEvents, map[string]interface{}{"command": hookCommandLine, "show_output": true})
	})
}

// editHooksFile loads a JSON settings file, applies edit and writes it back
// when edit reports a change.
func editHooksFile(path, hostName string, edit func(map[string]interface{}) bool) error {
	if !disableFlag {
		if binPath, err := exec.LookPath("agentgate"); err != nil {
			warnf("agentgate not found in PATH; the hook will fail until it is installed")
		} else {
			fmt.Printf("agentgate found: %s\n", binPath)
		}
	}

	settings, err := readJSONFile(path)
	if err != nil {
		return err
	}
	if !edit(settings) {
		if disableFlag {
			fmt.Printf("No agentgate hook found for %s, nothing to disable.\n", hostName)
		} else {
			fmt.Printf("%s hook already configured: %s\n", hostName, path)
		}
		return nil
	}
	if err := writeJSONFile(path, settings); err != nil {
		return err
	}

	if disableFlag {
		allowColor.Printf("agentgate hook removed for %s\n", hostName)
		fmt.Printf("   Settings: %s\n", path)
		return nil
	}
	allowColor.Printf("agentgate hook installed for %s\n", hostName)
	fmt.Printf("   Settings: %s\n", path)
	fmt.Println()
	fmt.Println("Test it by asking the agent to run: rm -rf build")
	fmt.Println("The first attempt is blocked; an identical retry within the TTL goes through.")
	return nil
}

// installClaudeHooks adds the agentgate entry under each Claude Code event.
func installClaudeHooks(settings map[string]interface{}) bool {
	hooks := getOrCreateMap(settings, "hooks")
	changed := false
	for _, event := range []string{"PreToolUse", "PostToolUse"} {
		entries := getSlice(hooks, event)
		present := false
		for _, e := range entries {
			if isGateHookEntry(e) {
				present = true
				break
			}
		}
		if present {
			continue
		}
		hooks[event] = append(entries, map[string]interface{}{
			"matcher": claudeMatchers[event],
			"hooks": []interface{}{
				map[string]interface{}{"type": "command", "command": hookCommandLine},
			},
		})
		changed = true
	}
	return changed
}

func removeClaudeHooks(settings map[string]interface{}) bool {
	hooks, ok := settings["hooks"].(map[string]interface{})
	if !ok {
		return false
	}
	removed := false
	for _, event := range []string{"PreToolUse", "PostToolUse"} {
		entries := getSlice(hooks, event)
		var kept []interface{}
		for _, e := range entries {
			if isGateHookEntry(e) {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(hooks, event)
		} else {
			hooks[event] = kept
		}
	}
	if len(hooks) == 0 {
		delete(settings, "hooks")
	}
	return removed
}

// installFlatHooks handles the Cursor/Windsurf layout where each event maps
// directly to a list of command entries.
func installFlatHooks(cfg map[string]interface{}, events []string, entry map[string]interface{}) bool {
	hooks := getOrCreateMap(cfg, "hooks")
	changed := false
	for _, event := range events {
		entries := getSlice(hooks, event)
		present := false
		for _, e := range entries {
			if isGateHookEntry(e) {
				present = true
				break
			}
		}
		if !present {
			hooks[event] = append(entries, entry)
			changed = true
		}
	}
	return changed
}

func removeFlatHooks(cfg map[string]interface{}, events []string) bool {
	hooks, ok := cfg["hooks"].(map[string]interface{})
	if !ok {
		return false
	}
	removed := false
	for _, event := range events {
		var kept []interface{}
		for _, e := range getSlice(hooks, event) {
			if isGateHookEntry(e) {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(hooks, event)
		} else {
			hooks[event] = kept
		}
	}
	return removed
}

// isGateHookEntry matches both the flat {"command": ...} shape and Claude
// Code's nested {"hooks": [{"command": ...}]} shape.
func isGateHookEntry(entry interface{}) bool {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return false
	}
	if m["command"] == hookCommandLine {
		return true
	}
	subHooks, _ := m["hooks"].([]interface{})
	for _, h := range subHooks {
		if hm, ok := h.(map[string]interface{}); ok && hm["command"] == hookCommandLine {
			return true
		}
	}
	return false
}

func readJSONFile(path string) (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return settings, nil
}

func writeJSONFile(path string, settings map[string]interface{}) error {
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func getOrCreateMap(parent map[string]interface{}, key string) map[string]interface{} {
	if v, ok := parent[key].(map[string]interface{}); ok {
		return v
	}
	m := make(map[string]interface{})
	parent[key] = m
	return m
}

func getSlice(parent map[string]interface{}, key string) []interface{} {
	if v, ok := parent[key].([]interface{}); ok {
		return v
	}
	return nil
}
