package classify

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// ScopeClassifier flags writes that land outside the project root and the
// allowed prefixes.
type ScopeClassifier struct {
	allowed []string
}

func NewScopeClassifier(allowed []string) *ScopeClassifier {
	return &ScopeClassifier{allowed: allowed}
}

func (c *ScopeClassifier) Name() string   { return "scope" }
func (c *ScopeClassifier) Family() Family { return FamilyScope }

func (c *ScopeClassifier) Classify(req *normalize.Request) []Finding {
	if req.ProjectRoot == "" {
		return nil
	}
	var findings []Finding
	switch req.Tool {
	case normalize.ToolFileWrite, normalize.ToolFileEdit:
		if out := c.outside(req, req.ResolvedTargets); len(out) > 0 {
			findings = append(findings, scopeFinding("file-write", req.HostTool, req.ProjectRoot, out))
		}
	case normalize.ToolCommandExec:
		for _, seg := range segments(req) {
			mutated := mutatedPaths(req, seg)
			for _, kind := range mutationKinds {
				if out := c.outside(req, mutated[kind]); len(out) > 0 {
					findings = append(findings, scopeFinding(kind, seg.Executable, req.ProjectRoot, out))
				}
			}
		}
	}
	return findings
}

func scopeFinding(kind, via, root string, targets []string) Finding {
	return Finding{
		Category: ScopeViolation,
		Severity: SoftBlock,
		Family:   FamilyScope,
		Rule:     "scope/" + kind,
		Detail:   fmt.Sprintf("%s via %s writes outside project root %s: %s", kind, via, root, strings.Join(targets, ", ")),
		Targets:  targets,
	}
}

func (c *ScopeClassifier) outside(req *normalize.Request, targets []string) []string {
	var out []string
	for _, t := range targets {
		if normalize.IsWithin(t, req.ProjectRoot) {
			continue
		}
		allowed := false
		for _, prefix := range c.allowed {
			if prefix != "" && normalize.IsWithin(t, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			out = append(out, t)
		}
	}
	return out
}

var mutationKinds = []string{
	"redirect", "in-place-edit", "permission-change", "symlink",
	"copy-destination", "move-source", "create", "delete", "raw-write",
}

// mutatedPaths groups the paths a segment would create or modify by the
// kind of mutation. Paths that cannot be resolved statically are skipped.
func mutatedPaths(req *normalize.Request, seg shell.Segment) map[string][]string {
	out := make(map[string][]string)
	add := func(kind string, words ...string) {
		for _, w := range words {
			if resolved, ok := req.Resolve(w); ok {
				out[kind] = append(out[kind], resolved)
			}
		}
	}

	for _, r := range seg.Redirects {
		if r.Mutating() {
			add("redirect", r.Path)
		}
	}

	positionals := seg.Positionals()
	switch seg.Executable {
	case "sed", "gsed", "perl", "ruby":
		if inPlaceEdit(seg) {
			out["in-place-edit"] = append(out["in-place-edit"], editTargets(req, seg)...)
		}
	case "chmod", "chown", "chgrp", "chattr", "setfacl":
		// first positional is the mode or owner unless --reference is used
		if _, ref := seg.FlagValue("", "reference"); !ref && len(positionals) > 0 {
			positionals = positionals[1:]
		}
		add("permission-change", positionals...)
	case "ln":
		if _, dest := seg.CopyOperands("tS", "suffix"); dest != "" {
			add("symlink", dest)
		}
	case "cp", "mv", "install", "rsync":
		sources, dest := copyOperands(seg)
		if dest != "" && !strings.Contains(dest, ":") {
			add("copy-destination", dest)
		}
		if seg.Executable == "mv" {
			add("move-source", sources...)
		}
	case "tee", "touch", "mkdir":
		add("create", positionals...)
	case "rm", "rmdir", "unlink", "shred", "truncate":
		add("delete", positionals...)
	case "dd":
		for _, a := range seg.Args {
			if strings.HasPrefix(a, "of=") {
				add("raw-write", strings.TrimPrefix(a, "of="))
			}
		}
	}

	for kind, paths := range out {
		out[kind] = dedupe(paths)
	}
	return out
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
