package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/config"
	"github.com/gzhole/agentgate/internal/gate"
	"github.com/gzhole/agentgate/internal/normalize"
)

const bypassEnv = "AGENTGATE_BYPASS"

// hookInput is the union of the hook payloads we understand.
// Claude Code sends: {"hook_event_name": "PreToolUse", "tool_name": "Bash", "tool_input": {...}, "cwd": "..."}
// Cursor sends:      {"hook_event_name": "beforeShellExecution", "command": "...", "cwd": "..."}
// Windsurf sends:    {"agent_action_name": "pre_run_command", "tool_info": {"command_line": "..."}}
type hookInput struct {
	HookEventName string                 `json:"hook_event_name"`
	ToolName      string                 `json:"tool_name"`
	ToolInput     map[string]interface{} `json:"tool_input"`
	ToolResponse  interface{}            `json:"tool_response"`
	Cwd           string                 `json:"cwd"`

	// Cursor fields
	Command  string `json:"command"`
	FilePath string `json:"file_path"`

	// Windsurf fields
	AgentActionName string   `json:"agent_action_name"`
	TrajectoryID    string   `json:"trajectory_id"`
	ToolInfo        toolInfo `json:"tool_info"`
}

type toolInfo struct {
	CommandLine string `json:"command_line"`
	Cwd         string `json:"cwd"`
	FilePath    string `json:"file_path"`
}

type host string

const (
	hostClaudeCode host = "claude-code"
	hostCursor     host = "cursor"
	hostWindsurf   host = "windsurf"
)

// claudeHookOutput is the JSON Claude Code reads from a hook's stdout.
type claudeHookOutput struct {
	HookSpecificOutput claudeSpecific `json:"hookSpecificOutput"`
}

type claudeSpecific struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
}

// cursorHookOutput is the JSON response Cursor expects from hook scripts.
type cursorHookOutput struct {
	Continue     bool   `json:"continue"`
	Permission   string `json:"permission"`
	UserMessage  string `json:"user_message,omitempty"`
	AgentMessage string `json:"agent_message,omitempty"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Hook handler for Claude Code, Cursor and Windsurf",
	Long: `Reads a hook JSON payload from stdin, evaluates the proposed tool call and
answers in the host's format. Any internal failure abstains so the host's
own policy applies.

Auto-detects the host from the JSON input:
  Claude Code  PreToolUse/PostToolUse, JSON permissionDecision
  Cursor       beforeShellExecution/beforeReadFile, JSON permission
  Windsurf     pre_run_command/pre_read_code/pre_write_code, exit code 2 blocks

Set AGENTGATE_BYPASS=1 to abstain on everything.

Setup:
  agentgate setup claude-code`,
	RunE: hookCommand,
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

func hookCommand(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		warnf("could not read hook input: %v", err)
		return nil
	}

	h := &hookHandler{
		stdout: os.Stdout,
		stderr: os.Stderr,
		load: func() (*config.Config, *gate.Gateway, error) {
			cfg, err := loadConfig()
			if err != nil {
				return nil, nil, err
			}
			gw, err := newGateway(cfg, nil)
			if err != nil {
				return nil, nil, err
			}
			return cfg, gw, nil
		},
	}
	if code := h.handle(data); code != 0 {
		os.Exit(code)
	}
	return nil
}

type hookHandler struct {
	stdout io.Writer
	stderr io.Writer
	load   func() (*config.Config, *gate.Gateway, error)
}

// handle evaluates one hook payload and returns the process exit code.
func (h *hookHandler) handle(data []byte) int {
	var input hookInput
	if err := json.Unmarshal(data, &input); err != nil {
		warnf("could not parse hook input: %v", err)
		h.note("hook", "", fmt.Errorf("malformed hook input: %v", err))
		return 0
	}

	hst, ok := detectHost(input)
	if !ok {
		h.note("hook", input.ToolName, errors.New("unrecognized hook payload"))
		return 0
	}
	source := string(hst) + "-hook"
	ev, ok := input.event(hst)
	if !ok {
		h.note(source, input.ToolName, errors.New("event carries no tool input"))
		return h.respond(hst, normalize.PhasePre, gate.Verdict{Outcome: gate.Abstain})
	}
	if os.Getenv(bypassEnv) == "1" {
		return h.respond(hst, ev.Phase, gate.Verdict{Outcome: gate.Abstain})
	}

	cfg, gw, err := h.load()
	if err != nil {
		warnf("%v", err)
		return h.respond(hst, ev.Phase, gate.Verdict{Outcome: gate.Abstain})
	}

	req, err := normalize.FromEvent(ev, cfg.ResolveProjectRoot(ev.Cwd))
	if err != nil {
		if !errors.Is(err, normalize.ErrNotApplicable) {
			warnf("%v", err)
		}
		recordNote(cfg, source, ev.ToolName, err)
		return h.respond(hst, ev.Phase, gate.Verdict{Outcome: gate.Abstain})
	}

	v := gw.Evaluate(req)
	recordVerdict(cfg, req, v, source, "", nil)
	return h.respond(hst, req.Phase, v)
}

// note audits an event that never reached evaluation.
func (h *hookHandler) note(source, hostTool string, cause error) {
	cfg, _, err := h.load()
	if err != nil {
		return
	}
	recordNote(cfg, source, hostTool, cause)
}

func detectHost(input hookInput) (host, bool) {
	switch input.HookEventName {
	case "PreToolUse", "PostToolUse":
		return hostClaudeCode, true
	case "beforeShellExecution", "beforeReadFile":
		return hostCursor, true
	}
	if input.AgentActionName != "" {
		return hostWindsurf, true
	}
	if input.Command != "" {
		return hostCursor, true
	}
	return "", false
}

// event maps a host payload onto the host-neutral event.
func (in hookInput) event(h host) (normalize.Event, bool) {
	switch h {
	case hostClaudeCode:
		ev := normalize.Event{
			Phase:    normalize.PhasePre,
			ToolName: in.ToolName,
			Input:    in.ToolInput,
			Cwd:      in.Cwd,
		}
		if in.HookEventName == "PostToolUse" {
			ev.Phase = normalize.PhasePost
			ev.Output = in.ToolResponse
		}
		return ev, in.ToolName != ""

	case hostCursor:
		if in.HookEventName == "beforeReadFile" {
			return normalize.Event{ToolName: "Read", Input: map[string]interface{}{"file_path": in.FilePath}, Cwd: in.Cwd}, in.FilePath != ""
		}
		return normalize.Event{ToolName: "Bash", Input: map[string]interface{}{"command": in.Command}, Cwd: in.Cwd}, in.Command != ""

	case hostWindsurf:
		info := in.ToolInfo
		switch in.AgentActionName {
		case "pre_run_command":
			return normalize.Event{ToolName: "Bash", Input: map[string]interface{}{"command": info.CommandLine}, Cwd: info.Cwd}, info.CommandLine != ""
		case "pre_read_code":
			return normalize.Event{ToolName: "Read", Input: map[string]interface{}{"file_path": info.FilePath}, Cwd: info.Cwd}, info.FilePath != ""
		case "pre_write_code":
			return normalize.Event{ToolName: "Edit", Input: map[string]interface{}{"file_path": info.FilePath}, Cwd: info.Cwd}, info.FilePath != ""
		}
	}
	return normalize.Event{}, false
}

// respond writes the verdict in the host's format and returns the exit code.
func (h *hookHandler) respond(hst host, phase normalize.Phase, v gate.Verdict) int {
	switch hst {
	case hostClaudeCode:
		out := claudeSpecific{HookEventName: "PreToolUse", AdditionalContext: v.Advisory}
		if phase == normalize.PhasePost {
			out.HookEventName = "PostToolUse"
		}
		switch v.Outcome {
		case gate.Block:
			out.PermissionDecision = "deny"
			out.PermissionDecisionReason = v.Reason
		case gate.Allow:
			out.PermissionDecision = "allow"
			out.PermissionDecisionReason = v.Reason
		default:
			if v.Advisory == "" {
				return 0
			}
		}
		h.writeJSON(claudeHookOutput{HookSpecificOutput: out})
		return 0

	case hostCursor:
		out := cursorHookOutput{Continue: true, Permission: "allow", AgentMessage: v.Advisory}
		if v.Outcome == gate.Block {
			out.Permission = "deny"
			out.UserMessage = "BLOCKED by agentgate: " + strings.Join(v.Rules, ", ")
			out.AgentMessage = v.Reason
		}
		h.writeJSON(out)
		return 0

	case hostWindsurf:
		if v.Outcome == gate.Block {
			fmt.Fprintln(h.stderr, "BLOCKED by agentgate")
			fmt.Fprintln(h.stderr, v.Reason)
			return 2
		}
		if v.Advisory != "" {
			fmt.Fprintln(h.stderr, v.Advisory)
		}
	}
	return 0
}

func (h *hookHandler) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		warnf("could not encode hook output: %v", err)
		return
	}
	fmt.Fprintln(h.stdout, string(data))
}
