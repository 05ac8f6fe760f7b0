package policy

import (
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// readOnlyExecs inspect, search or print without side effects.
var readOnlyExecs = []string{
	"ls", "ll", "la", "pwd", "cat", "tac", "head", "tail", "less", "more", "wc",
	"file", "stat", "du", "df", "tree", "grep", "egrep", "fgrep", "rg", "ag",
	"ack", "fd", "which", "whereis", "type", "whoami", "id", "groups", "uname",
	"hostname", "date", "uptime", "basename", "dirname", "realpath", "readlink",
	"sort", "uniq", "cut", "tr", "diff", "cmp", "comm", "jq", "column", "nl",
	"rev", "sha1sum", "sha256sum", "sha512sum", "md5sum", "shasum", "cksum",
	"man", "help", "ps", "free", "lsof", "nproc", "arch", "locale", "tldr",
	"test", "[", "true", "false", "sleep", "seq", "yes", "xxd", "od",
	"hexdump", "strings", "lscpu", "sw_vers",
}

// navigation and informational output
var shellBuiltins = []string{"cd", "pushd", "popd", "echo", "printf", "export", "unset", "set", "alias"}

var gitReadOnly = []string{
	"status", "diff", "log", "show", "describe", "rev-parse", "rev-list",
	"ls-files", "ls-tree", "ls-remote", "blame", "shortlog", "reflog",
	"cat-file", "name-rev", "whatchanged", "grep", "fetch", "version",
	"help", "check-ignore", "merge-base", "for-each-ref", "count-objects",
}

// gitWrites are routine history writes reviewed by the commit workflow.
// Destructive forms are caught by the deletion classifier first.
var gitWrites = []string{
	"add", "commit", "pull", "merge", "switch", "checkout", "stash",
	"cherry-pick", "revert", "rebase", "restore", "init", "clone", "am",
}

// dependencyQueries lists read-only subcommands per package manager.
var dependencyQueries = map[string][]string{
	"npm":    {"ls", "list", "ll", "la", "outdated", "view", "info", "show", "why", "explain", "audit", "search", "config", "root", "prefix", "version", "-v", "--version", "doctor", "fund"},
	"yarn":   {"list", "why", "info", "outdated", "licenses", "config", "--version"},
	"pnpm":   {"ls", "list", "why", "outdated", "audit", "licenses", "--version"},
	"pip":    {"list", "show", "freeze", "check", "search", "--version", "index", "inspect", "debug"},
	"pip3":   {"list", "show", "freeze", "check", "search", "--version", "index", "inspect", "debug"},
	"cargo":  {"tree", "metadata", "search", "--version", "version", "pkgid", "locate-project", "verify-project"},
	"gem":    {"list", "search", "info", "specification", "environment", "outdated", "--version"},
	"bundle": {"list", "outdated", "show", "info", "check", "exec"},
	"poetry": {"show", "check", "--version", "env", "config"},
	"brew":   {"list", "info", "search", "outdated", "deps", "uses", "--version", "config", "doctor"},
}

// buildRuns are standard build/test/run invocations per tool.
var buildRuns = map[string][]string{
	"go":      {"build", "test", "vet", "run", "fmt", "list", "version", "env", "doc", "mod", "generate", "tool"},
	"cargo":   {"build", "test", "check", "run", "clippy", "fmt", "bench", "doc"},
	"npm":     {"test", "t", "run", "run-script", "start", "build", "exec"},
	"yarn":    {"test", "run", "build", "start", "lint"},
	"pnpm":    {"test", "run", "build", "start", "lint", "exec"},
	"mvn":     {"test", "compile", "package", "verify", "validate", "clean"},
	"gradle":  {"test", "build", "check", "assemble", "clean"},
	"gradlew": {"test", "build", "check", "assemble", "clean"},
	"dotnet":  {"build", "test", "run", "restore"},
	"bun":     {"test", "run"},
	"deno":    {"test", "run", "check", "lint", "fmt"},
	"swift":   {"build", "test", "run"},
}

// anyArgs run freely with whatever arguments they get.
var anyArgs = []string{"make", "pytest", "tox", "jest", "vitest", "mocha", "tsc", "eslint", "golangci-lint", "ruff", "mypy", "black", "rspec", "phpunit", "ctest", "cmake", "ninja"}

var dockerReadOnly = []string{"ps", "images", "inspect", "logs", "version", "info", "stats", "top", "port", "history", "diff"}

var kubectlReadOnly = []string{"get", "describe", "logs", "top", "version", "explain", "api-resources", "cluster-info"}

// benignSinks are redirect targets that do not count as writes.
var benignSinks = []string{"/dev/null", "/dev/stdout", "/dev/stderr"}

// allowlist is tier 2.
func (e *Engine) allowlist(req *normalize.Request) (Result, bool) {
	for _, r := range e.rules {
		if r.Action == ActionAllow && r.matches(req) {
			return Result{Tier: TierSafeAllow, Rule: r.ID, Reason: r.Reason}, true
		}
	}

	switch req.Tool {
	case normalize.ToolFileRead, normalize.ToolFileWrite, normalize.ToolFileEdit:
		return Result{Tier: TierSafeAllow, Rule: "safe/file-tool", Reason: "read/edit/write tool family"}, true
	case normalize.ToolCommandExec:
		if req.Command == nil || len(req.Command.Segments) == 0 {
			return Result{}, false
		}
		// Substitutions the fallback splitter could not see inside.
		if req.Command.Fallback && shell.IsDynamic(req.RawPayload) {
			return Result{}, false
		}
		for _, seg := range req.Command.Segments {
			if !safeSegment(seg) {
				return Result{}, false
			}
		}
		return Result{Tier: TierSafeAllow, Rule: "safe/command", Reason: "read-only, navigation, version-control or build command"}, true
	}
	return Result{}, false
}

func safeSegment(seg shell.Segment) bool {
	for _, r := range seg.Redirects {
		if r.Mutating() && !contains(benignSinks, r.Path) {
			return false
		}
	}
	if seg.Executable == "" {
		return len(seg.Redirects) > 0
	}

	exec := strings.TrimPrefix(seg.Executable, "./")
	sub := seg.SubCommand()

	switch {
	case contains(readOnlyExecs, exec), contains(shellBuiltins, exec):
		return true
	case contains(anyArgs, exec):
		return true
	case exec == "find":
		return !containsAny(seg.Args, "-delete", "-exec", "-execdir", "-ok", "-okdir", "-fprint", "-fprint0", "-fprintf", "-fls")
	case exec == "sed":
		return !seg.HasFlag("i", "in-place")
	case exec == "git":
		return safeGit(seg)
	case exec == "docker" || exec == "podman":
		if sub == "compose" {
			p := seg.Positionals()
			return len(p) > 1 && (p[1] == "ps" || p[1] == "logs" || p[1] == "config")
		}
		return contains(dockerReadOnly, sub)
	case exec == "kubectl":
		return contains(kubectlReadOnly, sub)
	case exec == "python" || exec == "python3":
		p := seg.Positionals()
		if m, ok := seg.FlagValue("m"); ok {
			// p[0] is the module name itself.
			return m == "pytest" || m == "unittest" || m == "mypy" || m == "pip" && len(p) > 1 && contains(dependencyQueries["pip"], p[1])
		}
		return seg.HasFlag("V", "version")
	case exec == "node":
		return seg.HasFlag("v", "version")
	}

	if subs, ok := dependencyQueries[exec]; ok && contains(subs, firstWord(seg)) {
		return true
	}
	if subs, ok := buildRuns[exec]; ok && contains(subs, firstWord(seg)) {
		return true
	}
	return false
}

// firstWord is the first argument, flag or not, so "npm --version" and
// "npm ls" both resolve.
func firstWord(seg shell.Segment) string {
	if len(seg.Args) == 0 {
		return ""
	}
	return seg.Args[0]
}

func safeGit(seg shell.Segment) bool {
	sub := seg.SubCommand()
	pos := seg.Positionals()
	switch {
	case contains(gitReadOnly, sub), contains(gitWrites, sub):
		return true
	case sub == "branch":
		return !seg.HasFlag("dDmMcC", "delete", "move", "copy", "force")
	case sub == "tag":
		return !seg.HasFlag("d", "delete", "force")
	case sub == "remote":
		return len(pos) < 2 || pos[1] == "-v" || pos[1] == "show" || pos[1] == "get-url"
	case sub == "config":
		return seg.HasFlag("l", "list", "get", "get-all", "get-regexp")
	case sub == "push":
		return !seg.HasFlag("f", "force", "force-with-lease", "delete", "mirror", "prune")
	case sub == "worktree":
		return len(pos) > 1 && pos[1] == "list"
	}
	return false
}

func containsAny(list []string, values ...string) bool {
	for _, v := range values {
		if contains(list, v) {
			return true
		}
	}
	return false
}
