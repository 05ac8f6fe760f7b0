package normalize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gzhole/agentgate/internal/shell"
)

// ErrNotApplicable means the event carries nothing to evaluate. Callers
// abstain rather than treat it as a risk.
var ErrNotApplicable = errors.New("event not applicable")

// Tool is the canonical kind of action being requested.
type Tool string

const (
	ToolCommandExec  Tool = "CommandExec"
	ToolFileRead     Tool = "FileRead"
	ToolFileWrite    Tool = "FileWrite"
	ToolFileEdit     Tool = "FileEdit"
	ToolNetworkFetch Tool = "NetworkFetch"
)

// Phase distinguishes pre-execution checks from output inspection.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// hostTools maps host tool identifiers to canonical tools.
var hostTools = map[string]Tool{
	"Bash":         ToolCommandExec,
	"Shell":        ToolCommandExec,
	"Read":         ToolFileRead,
	"Grep":         ToolFileRead,
	"Glob":         ToolFileRead,
	"LS":           ToolFileRead,
	"NotebookRead": ToolFileRead,
	"Write":        ToolFileWrite,
	"Edit":         ToolFileEdit,
	"MultiEdit":    ToolFileEdit,
	"NotebookEdit": ToolFileEdit,
	"WebFetch":     ToolNetworkFetch,
	"WebSearch":    ToolNetworkFetch,
}

// Event is a host-neutral view of one hook invocation.
type Event struct {
	Phase    Phase
	ToolName string
	Input    map[string]interface{}
	Output   interface{}
	Cwd      string
}

// Request is the normalized unit under evaluation. It is built once per
// invocation and not modified afterwards.
type Request struct {
	Tool            Tool
	HostTool        string
	Phase           Phase
	RawPayload      string
	ResolvedTargets []string

	// Content is the text a write or edit would store.
	Content string
	// Output is the tool's returned content (post phase only).
	Output string

	ProjectRoot string
	Home        string

	// Command is the segmented payload for CommandExec requests.
	Command *shell.Command
}

// FromEvent builds a Request. projectRoot must already be absolute.
func FromEvent(ev Event, projectRoot string) (*Request, error) {
	tool, ok := hostTools[ev.ToolName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", ErrNotApplicable, ev.ToolName)
	}
	if ev.Phase == "" {
		ev.Phase = PhasePre
	}

	home, _ := os.UserHomeDir()
	req := &Request{
		Tool:        tool,
		HostTool:    ev.ToolName,
		Phase:       ev.Phase,
		ProjectRoot: projectRoot,
		Home:        home,
	}

	switch tool {
	case ToolCommandExec:
		cmd := stringField(ev.Input, "command")
		if strings.TrimSpace(cmd) == "" {
			return nil, fmt.Errorf("%w: empty command", ErrNotApplicable)
		}
		req.RawPayload = cmd
		req.Command = shell.Parse(cmd)
		req.ResolvedTargets = req.commandTargets()

	case ToolFileRead, ToolFileWrite, ToolFileEdit:
		path := stringField(ev.Input, "file_path", "notebook_path", "path")
		if path == "" {
			if ev.ToolName != "Grep" && ev.ToolName != "Glob" && ev.ToolName != "LS" {
				return nil, fmt.Errorf("%w: %s without a path", ErrNotApplicable, ev.ToolName)
			}
			path = "."
		}
		req.RawPayload = path
		if resolved, ok := req.Resolve(path); ok {
			req.ResolvedTargets = []string{resolved}
		}
		req.Content = editContent(ev.Input)

	case ToolNetworkFetch:
		target := stringField(ev.Input, "url", "query")
		if target == "" {
			return nil, fmt.Errorf("%w: %s without url", ErrNotApplicable, ev.ToolName)
		}
		req.RawPayload = target
	}

	if ev.Phase == PhasePost {
		req.Output = FlattenText(ev.Output)
	}
	return req, nil
}

// Resolve expands a path the way the shell would from the project root.
// It reports false when the path still contains a substitution that cannot
// be resolved statically.
func (r *Request) Resolve(path string) (string, bool) {
	return Resolver{Home: r.Home, ProjectRoot: r.ProjectRoot}.Resolve(path)
}

// commandTargets collects path-like words and redirect targets.
func (r *Request) commandTargets() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(word string) {
		if resolved, ok := r.Resolve(word); ok && !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	for _, seg := range r.Command.Segments {
		for _, arg := range seg.Positionals() {
			if LooksLikePath(arg) {
				add(arg)
			}
		}
		for _, redir := range seg.Redirects {
			if redir.Path != "" && redir.Op != ">&" && redir.Op != "<&" && !strings.HasPrefix(redir.Op, "<<") {
				add(redir.Path)
			}
		}
	}
	return out
}

// Resolver turns user-supplied paths into absolute, cleaned paths.
type Resolver struct {
	Home        string
	ProjectRoot string
}

func (r Resolver) Resolve(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}

	if path == "~" && r.Home != "" {
		path = r.Home
	} else if strings.HasPrefix(path, "~/") && r.Home != "" {
		path = filepath.Join(r.Home, path[2:])
	}

	path = expandPlaceholders(path, map[string]string{
		"HOME":                  r.Home,
		"CLAUDE_PROJECT_DIR":    r.ProjectRoot,
		"AGENTGATE_PROJECT_DIR": r.ProjectRoot,
		"PWD":                   r.ProjectRoot,
	})
	if shell.IsDynamic(path) {
		return "", false
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(r.ProjectRoot, path)
	}
	return canonical(filepath.Clean(path)), true
}

func expandPlaceholders(path string, vars map[string]string) string {
	if !strings.Contains(path, "$") {
		return path
	}
	// Longest names first so $HOME never clobbers a longer variable.
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		value := vars[name]
		if value == "" {
			continue
		}
		path = strings.ReplaceAll(path, "${"+name+"}", value)
		path = strings.ReplaceAll(path, "$"+name, value)
	}
	return path
}

// canonical resolves symlinks in the longest existing prefix of path.
// The remainder need not exist.
func canonical(path string) string {
	// device and process pseudo-files are matched by name
	if strings.HasPrefix(path, "/dev/") || strings.HasPrefix(path, "/proc/") {
		return path
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(canonical(parent), filepath.Base(path))
}

// LooksLikePath reports whether a command word is probably a filesystem
// path rather than a flag, URL, or plain word.
func LooksLikePath(arg string) bool {
	if arg == "" || strings.HasPrefix(arg, "-") {
		return false
	}
	if strings.Contains(arg, "://") || strings.Contains(arg, "=") {
		return false
	}
	if strings.HasPrefix(arg, "/") ||
		strings.HasPrefix(arg, ".") ||
		strings.HasPrefix(arg, "~") ||
		strings.HasPrefix(arg, "$") ||
		strings.Contains(arg, "/") {
		return true
	}
	// bare file names with an extension, e.g. notes.txt
	if i := strings.LastIndex(arg, "."); i > 0 && i < len(arg)-1 && !strings.Contains(arg, "@") {
		return true
	}
	return false
}

// IsWithin reports whether path equals dir or lies beneath it.
func IsWithin(path, dir string) bool {
	if dir == "" {
		return false
	}
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	if dir == "/" {
		return strings.HasPrefix(path, "/")
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func stringField(input map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func editContent(input map[string]interface{}) string {
	if s := stringField(input, "content", "new_string", "new_source"); s != "" {
		return s
	}
	edits, _ := input["edits"].([]interface{})
	var parts []string
	for _, e := range edits {
		if m, ok := e.(map[string]interface{}); ok {
			if s := stringField(m, "new_string"); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// FlattenText joins every string found in a decoded JSON value.
func FlattenText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", val)
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s := FlattenText(val[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case []interface{}:
		var parts []string
		for _, item := range val {
			if s := FlattenText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", v)
	}
}
