package policy

import (
	"path/filepath"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// hookSettingsFiles are the host files that register the gateway as a hook,
// relative to the home directory.
var hookSettingsFiles = []string{
	".claude/settings.json",
	".claude/settings.local.json",
	".cursor/hooks.json",
	".codeium/windsurf/hooks.json",
}

// projectHookFiles also register hooks when found inside a project.
var projectHookFiles = []string{
	"/.claude/settings.json",
	"/.claude/settings.local.json",
	"/.cursor/hooks.json",
}

// GuardDir marks dir as gateway state. Any write into it is a hard block.
func (e *Engine) GuardDir(dir string) {
	if dir == "" {
		return
	}
	e.guarded = append(e.guarded, filepath.Clean(dir)+"/**")
}

func defaultGuarded(homeDir string) []string {
	if homeDir == "" {
		return nil
	}
	out := make([]string, 0, len(hookSettingsFiles))
	for _, f := range hookSettingsFiles {
		out = append(out, filepath.Join(homeDir, f))
	}
	return out
}

// gatewayTamper reports the first write that lands on guarded state.
func (e *Engine) gatewayTamper(req *normalize.Request) (string, bool) {
	var written []string
	switch req.Tool {
	case normalize.ToolFileWrite, normalize.ToolFileEdit:
		written = req.ResolvedTargets
	case normalize.ToolCommandExec:
		if req.Command == nil {
			return "", false
		}
		for _, seg := range req.Command.Segments {
			if disablesGateway(seg) {
				return seg.Text(), true
			}
			for _, c := range writeDestinations(seg) {
				if resolved, ok := req.Resolve(c); ok {
					written = append(written, resolved)
				}
			}
		}
	}
	for _, path := range written {
		if e.isGuarded(path) {
			return path, true
		}
	}
	return "", false
}

func (e *Engine) isGuarded(path string) bool {
	for _, g := range e.guarded {
		if matchGlob(path, g) {
			return true
		}
	}
	for _, f := range projectHookFiles {
		if strings.HasSuffix(path, f) {
			return true
		}
	}
	return false
}

// disablesGateway matches the gateway's own CLI used to unhook it, drop
// pending strikes or turn off a policy pack.
func disablesGateway(seg shell.Segment) bool {
	if filepath.Base(seg.Executable) != "agentgate" {
		return false
	}
	pos := seg.Positionals()
	switch seg.SubCommand() {
	case "setup":
		return seg.HasFlag("", "disable")
	case "approvals":
		return len(pos) > 1 && pos[1] == "clear"
	case "pack":
		return len(pos) > 1 && pos[1] == "disable"
	}
	return false
}
