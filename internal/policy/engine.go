// Package policy is the three-tier decision engine: a hard blocklist that
// nothing overrides, a safe allowlist, and passthrough for everything else.
package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

type Engine struct {
	policy  *Policy
	homeDir string
	rules   []compiledRule
	guarded []string
}

type compiledRule struct {
	Rule
	re    *regexp.Regexp
	globs []string
}

// NewEngine compiles the operator rules. homeDir expands "~" in protected
// paths and rule path globs.
func NewEngine(p *Policy, homeDir string) (*Engine, error) {
	if p == nil {
		p = DefaultPolicy()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{policy: p, homeDir: homeDir, guarded: defaultGuarded(homeDir)}
	for _, r := range p.Rules {
		cr := compiledRule{Rule: r}
		for _, g := range r.Match.PathGlob {
			cr.globs = append(cr.globs, e.expandPath(g))
		}
		if r.Match.CommandRegex != "" {
			re, err := regexp.Compile(r.Match.CommandRegex)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			cr.re = re
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Policy returns the engine's policy (for inspection/testing).
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Evaluate runs tier 1, then tier 2. The blocklist always wins.
func (e *Engine) Evaluate(req *normalize.Request) Result {
	if r, ok := e.blocklist(req); ok {
		return r
	}
	if r, ok := e.allowlist(req); ok {
		return r
	}
	return Result{Tier: TierPassthrough}
}

func (r compiledRule) matches(req *normalize.Request) bool {
	m := r.Match
	for _, g := range r.globs {
		for _, t := range req.ResolvedTargets {
			if matchGlob(t, g) {
				return true
			}
		}
	}
	if req.Tool != normalize.ToolCommandExec {
		return false
	}

	command := strings.TrimSpace(req.RawPayload)
	if m.CommandExact != "" && command == m.CommandExact {
		return true
	}
	for _, prefix := range m.CommandPrefix {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	if r.re != nil && r.re.MatchString(command) {
		return true
	}
	if m.Structural != nil && req.Command != nil {
		for i := range req.Command.Segments {
			if m.Structural.matches(req.Command, i) {
				return true
			}
		}
	}
	return false
}

func (s *StructuralMatch) matches(cmd *shell.Command, i int) bool {
	seg := cmd.Segments[i]
	if len(s.Executable) > 0 && !contains(s.Executable, seg.Executable) {
		return false
	}
	if s.SubCommand != "" && seg.SubCommand() != s.SubCommand {
		return false
	}
	for _, f := range s.FlagsAll {
		if !hasFlag(seg, f) {
			return false
		}
	}
	if len(s.FlagsAny) > 0 {
		found := false
		for _, f := range s.FlagsAny {
			if hasFlag(seg, f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, f := range s.FlagsNone {
		if hasFlag(seg, f) {
			return false
		}
	}
	pos := seg.Positionals()
	if len(s.ArgsAny) > 0 && !anyGlob(pos, s.ArgsAny) {
		return false
	}
	if len(s.ArgsNone) > 0 && anyGlob(pos, s.ArgsNone) {
		return false
	}
	if len(s.PipeTo) > 0 && !piped(cmd, i, s.PipeTo, true) {
		return false
	}
	if len(s.PipeFrom) > 0 && !piped(cmd, i, s.PipeFrom, false) {
		return false
	}
	return true
}

// hasFlag treats a single letter as a short flag and anything longer as a
// long flag name.
func hasFlag(seg shell.Segment, f string) bool {
	f = strings.TrimLeft(f, "-")
	if len(f) == 1 {
		return seg.HasFlag(f)
	}
	return seg.HasFlag("", f)
}

func anyGlob(args, globs []string) bool {
	for _, a := range args {
		for _, g := range globs {
			if ok, _ := filepath.Match(g, a); ok {
				return true
			}
		}
	}
	return false
}

// piped reports whether segment i writes to (out) or reads from (!out) a
// segment whose executable is listed.
func piped(cmd *shell.Command, i int, execs []string, out bool) bool {
	for _, p := range cmd.Pipes {
		if out && p.From == i && contains(execs, cmd.Segments[p.To].Executable) {
			return true
		}
		if !out && p.To == i && contains(execs, cmd.Segments[p.From].Executable) {
			return true
		}
	}
	return false
}

func (e *Engine) checkProtectedPaths(paths []string) (pattern, target string, ok bool) {
	for _, path := range paths {
		for _, p := range e.policy.ProtectedPaths {
			if matchGlob(path, e.expandPath(p)) {
				return p, path, true
			}
		}
	}
	return "", "", false
}

func (e *Engine) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") && e.homeDir != "" {
		return filepath.Join(e.homeDir, path[2:])
	}
	if path == "~" && e.homeDir != "" {
		return e.homeDir
	}
	return path
}

func matchGlob(path, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(path, prefix+"/") || path == prefix
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if !strings.HasPrefix(path, prefix+"/") {
			return false
		}
		remainder := strings.TrimPrefix(path, prefix+"/")
		return !strings.Contains(remainder, "/")
	}

	matched, _ := filepath.Match(pattern, path)
	return matched
}
