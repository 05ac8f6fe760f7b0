package policy

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/redact"
	"github.com/gzhole/agentgate/internal/shell"
)

// hardRule is one row of the built-in blocklist. Match reports the
// literal target that made the segment catastrophic.
type hardRule struct {
	ID     string
	Exec   []string
	Match  func(req *normalize.Request, seg shell.Segment) (string, bool)
	Reason string
}

// rawRule matches the whole command text. Used for idioms the segmenter
// splits apart (process substitution, function definitions).
type rawRule struct {
	ID      string
	Pattern *regexp.Regexp
	Reason  string
}

var hardRules = []hardRule{
	{
		ID:     "hard/recursive-delete-root",
		Exec:   []string{"rm"},
		Match:  recursiveDeleteOfRoot,
		Reason: "recursive delete of the root filesystem, the home directory or a system directory",
	},
	{
		ID:     "hard/raw-disk-write",
		Match:  rawDiskWrite,
		Reason: "raw write to a block device",
	},
	{
		ID:     "hard/format-filesystem",
		Match:  formatsDisk,
		Reason: "formatting or repartitioning a disk",
	},
	{
		ID:     "hard/world-writable-system-path",
		Exec:   []string{"chmod"},
		Match:  worldWritableSystemPath,
		Reason: "granting world write permission on a system path",
	},
	{
		ID:     "hard/auth-file-edit",
		Match:  authFileEdit,
		Reason: "direct edit of a system authentication file",
	},
	{
		ID:     "hard/secret-http-payload",
		Exec:   []string{"curl", "wget", "http", "https", "xh"},
		Match:  secretHTTPPayload,
		Reason: "HTTP request body carries a secret",
	},
	{
		ID:     "hard/disable-critical-service",
		Exec:   []string{"systemctl", "service", "launchctl", "setenforce"},
		Match:  disablesCriticalService,
		Reason: "stopping or disabling a critical system service",
	},
	{
		ID:     "hard/firewall-flush",
		Exec:   []string{"iptables", "ip6tables", "nft", "ufw", "pfctl", "netsh"},
		Match:  flushesFirewall,
		Reason: "flushing or disabling the firewall",
	},
	{
		ID:     "hard/environment-read",
		Match:  readsEnvironment,
		Reason: "direct read of an environment file or process environment",
	},
}

var rawRules = []rawRule{
	{
		ID:      "hard/fork-bomb",
		Pattern: regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		Reason:  "fork bomb",
	},
	{
		ID:      "hard/remote-code-execution",
		Pattern: regexp.MustCompile(`\b(?:sh|bash|zsh|dash|ksh|python[0-9.]*|perl|ruby|node|source)\s+<\(\s*(?:curl|wget|fetch)\b`),
		Reason:  "executing a script fetched from the network",
	},
	{
		ID:      "hard/remote-code-execution",
		Pattern: regexp.MustCompile("(?:^|[;&|\\s])(?:eval|source|\\.|(?:sh|bash|zsh|dash|ksh)\\s+-c)\\s+[\"']?(?:\\$\\(|`)\\s*(?:curl|wget|fetch)\\b"),
		Reason:  "executing a script fetched from the network",
	},
}

var (
	fetchers     = []string{"curl", "wget", "fetch", "http", "https", "xh", "aria2c"}
	interpreters = []string{"sh", "bash", "zsh", "dash", "ksh", "fish", "csh", "tcsh", "python", "python2", "python3", "perl", "ruby", "node", "php", "pwsh", "powershell"}
)

// systemDirs are top-level directories whose recursive removal is never
// recoverable.
var systemDirs = []string{
	"/bin", "/boot", "/dev", "/etc", "/lib", "/lib32", "/lib64", "/opt", "/proc",
	"/root", "/sbin", "/srv", "/sys", "/usr", "/var", "/home", "/Users",
	"/System", "/Library", "/Applications", "/private", "/usr/local", "/usr/bin",
}

// systemTrees are trees where a world-writable grant is a privilege
// escalation.
var systemTrees = []string{
	"/bin", "/boot", "/etc", "/lib", "/lib32", "/lib64", "/opt", "/root", "/sbin",
	"/usr", "/var", "/System", "/Library", "/private/etc", "/private/var",
}

var (
	blockDeviceRe = regexp.MustCompile(`^/dev/(sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme[0-9]|mmcblk[0-9]|r?disk[0-9]|md[0-9]|dm-[0-9]|mapper/|loop[0-9])`)
	formatExecRe  = regexp.MustCompile(`^(mkfs(\..+)?|mke2fs|mkswap|mkdosfs|mkntfs|newfs(_.+)?|fdisk|sfdisk|cfdisk|gdisk|sgdisk|parted|wipefs)$`)
	authFileRe    = regexp.MustCompile(`^(/private)?/etc/((passwd|shadow|group|gshadow|sudoers|master\.passwd)$|(sudoers\.d|pam\.d)/)`)
	envFileRe     = regexp.MustCompile(`/\.env(\.[^/]+)?$`)
	envExampleRe  = regexp.MustCompile(`\.(example|sample|template|dist|defaults)$`)
	procEnvironRe = regexp.MustCompile(`^/proc/[^/]+/environ$`)
	octalModeRe   = regexp.MustCompile(`^0*[0-7]{0,2}[0-7][2367]$`)
)

var criticalServices = []string{
	"sshd", "ssh", "systemd-journald", "systemd-logind", "systemd-networkd",
	"systemd-resolved", "networking", "NetworkManager", "dbus", "auditd",
	"firewalld", "ufw", "apparmor", "iptables", "nftables", "cron", "crond",
	"rsyslog", "polkit",
}

var diskutilDestructive = []string{"erasedisk", "erasevolume", "partitiondisk", "zerodisk", "randomdisk", "secureerase", "reformat"}

// blocklist is tier 1.
func (e *Engine) blocklist(req *normalize.Request) (Result, bool) {
	if req.Tool == normalize.ToolCommandExec && req.Command != nil {
		for _, r := range rawRules {
			if r.Pattern.MatchString(req.RawPayload) {
				return hardResult(r.ID, r.Reason, req.RawPayload), true
			}
		}
		if target, ok := pipedIntoInterpreter(req.Command); ok {
			return hardResult("hard/remote-code-execution", "piping a network fetch into an interpreter", target), true
		}
		for _, seg := range req.Command.Segments {
			for _, r := range hardRules {
				if len(r.Exec) > 0 && !contains(r.Exec, seg.Executable) {
					continue
				}
				if target, ok := r.Match(req, seg); ok {
					return hardResult(r.ID, r.Reason, target), true
				}
			}
		}
	}

	if target, ok := e.gatewayTamper(req); ok {
		return hardResult("hard/gateway-tamper", "modifying the gateway's own configuration or the hooks that invoke it", target), true
	}

	switch req.Tool {
	case normalize.ToolFileRead:
		for _, t := range req.ResolvedTargets {
			if isEnvironmentFile(t) {
				return hardResult("hard/environment-read", "direct read of an environment file or process environment", t), true
			}
		}
	case normalize.ToolFileWrite, normalize.ToolFileEdit:
		for _, t := range req.ResolvedTargets {
			if authFileRe.MatchString(t) {
				return hardResult("hard/auth-file-edit", "direct edit of a system authentication file", t), true
			}
		}
	}

	if pattern, target, ok := e.checkProtectedPaths(req.ResolvedTargets); ok {
		return hardResult("hard/protected-path", "access to protected path "+pattern, target), true
	}

	for _, r := range e.rules {
		if r.Action == ActionBlock && r.matches(req) {
			return Result{Tier: TierHardBlock, Rule: r.ID, Reason: r.Reason, Targets: req.ResolvedTargets}, true
		}
	}
	return Result{}, false
}

func hardResult(rule, reason, target string) Result {
	return Result{Tier: TierHardBlock, Rule: rule, Reason: reason, Targets: []string{target}}
}

func pipedIntoInterpreter(cmd *shell.Command) (string, bool) {
	for _, p := range cmd.Pipes {
		from, to := cmd.Segments[p.From], cmd.Segments[p.To]
		if contains(fetchers, from.Executable) && contains(interpreters, to.Executable) {
			return from.Text() + " | " + to.Executable, true
		}
	}
	return "", false
}

func recursiveDeleteOfRoot(req *normalize.Request, seg shell.Segment) (string, bool) {
	if !seg.HasFlag("rR", "recursive") {
		return "", false
	}
	for _, arg := range seg.Positionals() {
		// "/*" and "~/*" empty the directory itself.
		trimmed := strings.TrimSuffix(arg, "/*")
		if trimmed == "" {
			trimmed = "/"
		}
		resolved, ok := req.Resolve(trimmed)
		if !ok {
			continue
		}
		if resolved == "/" || (req.Home != "" && resolved == filepath.Clean(req.Home)) {
			return arg, true
		}
		if contains(systemDirs, resolved) {
			return arg, true
		}
	}
	return "", false
}

func rawDiskWrite(req *normalize.Request, seg shell.Segment) (string, bool) {
	for _, r := range seg.Redirects {
		if r.Mutating() && blockDeviceRe.MatchString(r.Path) {
			return r.Path, true
		}
	}
	switch seg.Executable {
	case "dd":
		for _, a := range seg.Args {
			if dev := strings.TrimPrefix(a, "of="); dev != a && blockDeviceRe.MatchString(dev) {
				return dev, true
			}
		}
	case "shred", "wipe", "blkdiscard", "tee", "cp":
		for _, p := range seg.Positionals() {
			if blockDeviceRe.MatchString(p) {
				return p, true
			}
		}
	}
	return "", false
}

func formatsDisk(req *normalize.Request, seg shell.Segment) (string, bool) {
	if seg.Executable == "diskutil" {
		sub := strings.ToLower(seg.SubCommand())
		if contains(diskutilDestructive, sub) {
			return seg.Text(), true
		}
		return "", false
	}
	if !formatExecRe.MatchString(seg.Executable) {
		return "", false
	}
	switch seg.Executable {
	case "fdisk", "sfdisk", "parted", "gdisk", "sgdisk":
		if seg.HasFlag("lp", "list", "print") || len(seg.Positionals()) == 0 {
			return "", false
		}
	case "wipefs":
		if !seg.HasFlag("ao", "all", "offset") {
			return "", false
		}
	}
	target := seg.Executable
	if p := seg.Positionals(); len(p) > 0 {
		target = p[len(p)-1]
	}
	return target, true
}

func worldWritableSystemPath(req *normalize.Request, seg shell.Segment) (string, bool) {
	pos := seg.Positionals()
	if len(pos) < 2 {
		return "", false
	}
	if mode := pos[0]; !octalModeRe.MatchString(mode) && !worldWrite(mode) {
		return "", false
	}
	for _, arg := range pos[1:] {
		resolved, ok := req.Resolve(arg)
		if !ok {
			continue
		}
		if resolved == "/" {
			return arg, true
		}
		for _, tree := range systemTrees {
			if normalize.IsWithin(resolved, tree) {
				return arg, true
			}
		}
	}
	return "", false
}

// worldWrite reports whether a symbolic mode grants write to others. "u+w"
// and "g+w" name a class without others.
func worldWrite(mode string) bool {
	for _, clause := range strings.Split(mode, ",") {
		i := strings.IndexAny(clause, "+=")
		if i < 0 || !strings.Contains(clause[i:], "w") {
			continue
		}
		who := clause[:i]
		if who == "" || strings.ContainsAny(who, "ao") {
			return true
		}
	}
	return false
}

func authFileEdit(req *normalize.Request, seg shell.Segment) (string, bool) {
	for _, c := range writeDestinations(seg) {
		if resolved, ok := req.Resolve(c); ok && authFileRe.MatchString(resolved) {
			return c, true
		}
	}
	return "", false
}

// writeDestinations lists the paths a segment creates, truncates, deletes
// or edits in place.
func writeDestinations(seg shell.Segment) []string {
	var candidates []string
	for _, r := range seg.Redirects {
		if r.Mutating() {
			candidates = append(candidates, r.Path)
		}
	}
	pos := seg.Positionals()
	switch seg.Executable {
	case "tee", "truncate", "rm", "unlink", "shred", "chattr", "chmod":
		candidates = append(candidates, pos...)
	case "cp", "mv", "install", "ln", "rsync":
		if len(pos) > 1 {
			candidates = append(candidates, pos[len(pos)-1])
		}
		if seg.Executable == "mv" && len(pos) > 1 {
			candidates = append(candidates, pos[:len(pos)-1]...)
		}
	case "sed", "perl", "ruby":
		if seg.HasFlag("i", "in-place") {
			candidates = append(candidates, pos...)
		}
	case "dd":
		for _, a := range seg.Args {
			if strings.HasPrefix(a, "of=") {
				candidates = append(candidates, strings.TrimPrefix(a, "of="))
			}
		}
	}
	return candidates
}

var (
	curlBodyFlags = []string{"-d", "--data", "--data-binary", "--data-raw", "--data-ascii", "--data-urlencode", "--json", "-F", "--form", "--form-string"}
	wgetBodyFlags = []string{"--post-data", "--body-data"}
)

func secretHTTPPayload(req *normalize.Request, seg shell.Segment) (string, bool) {
	var bodies []string
	switch seg.Executable {
	case "curl":
		bodies = flagValues(seg.Args, curlBodyFlags)
	case "wget":
		bodies = flagValues(seg.Args, wgetBodyFlags)
	default:
		// httpie request items: field=value, field:=json
		for _, p := range seg.Positionals() {
			if strings.Contains(p, "=") {
				bodies = append(bodies, p)
			}
		}
	}
	for _, b := range bodies {
		if redact.ContainsSecret(b) || len(redact.SecretVariables(b)) > 0 {
			return redact.Redact(b), true
		}
	}
	return "", false
}

// flagValues collects the values of the named flags in "--flag value",
// "--flag=value" and "-dvalue" forms.
func flagValues(args, flags []string) []string {
	var out []string
	for i, a := range args {
		for _, f := range flags {
			switch {
			case a == f:
				if i+1 < len(args) {
					out = append(out, args[i+1])
				}
			case strings.HasPrefix(f, "--") && strings.HasPrefix(a, f+"="):
				out = append(out, strings.TrimPrefix(a, f+"="))
			case len(f) == 2 && strings.HasPrefix(a, f) && !strings.HasPrefix(a, "--"):
				out = append(out, a[2:])
			}
		}
	}
	return out
}

func disablesCriticalService(req *normalize.Request, seg shell.Segment) (string, bool) {
	pos := seg.Positionals()
	switch seg.Executable {
	case "setenforce":
		if len(pos) > 0 && (pos[0] == "0" || strings.EqualFold(pos[0], "permissive")) {
			return "SELinux enforcement", true
		}
	case "systemctl":
		if len(pos) < 2 || !contains([]string{"stop", "disable", "mask", "kill"}, pos[0]) {
			return "", false
		}
		for _, unit := range pos[1:] {
			if contains(criticalServices, strings.TrimSuffix(unit, ".service")) {
				return unit, true
			}
		}
	case "service":
		if len(pos) >= 2 && contains(criticalServices, pos[0]) && (pos[1] == "stop" || pos[1] == "disable") {
			return pos[0], true
		}
	case "launchctl":
		if len(pos) >= 2 && (pos[0] == "unload" || pos[0] == "bootout" || pos[0] == "disable") {
			for _, p := range pos[1:] {
				if strings.Contains(p, "com.apple.") || strings.HasPrefix(p, "/System/") {
					return p, true
				}
			}
		}
	}
	return "", false
}

func flushesFirewall(req *normalize.Request, seg shell.Segment) (string, bool) {
	pos := seg.Positionals()
	switch seg.Executable {
	case "iptables", "ip6tables":
		if seg.HasFlag("F", "flush") {
			return seg.Executable, true
		}
	case "nft":
		if len(pos) >= 2 && pos[0] == "flush" && pos[1] == "ruleset" {
			return "ruleset", true
		}
	case "ufw":
		if len(pos) > 0 && (pos[0] == "disable" || pos[0] == "reset") {
			return "ufw", true
		}
	case "pfctl":
		if seg.HasFlag("d") {
			return "pf", true
		}
		if v, ok := seg.FlagValue("F"); ok && (v == "all" || v == "rules") {
			return "pf", true
		}
	case "netsh":
		text := strings.ToLower(seg.Text())
		if strings.Contains(text, "advfirewall") && strings.Contains(text, "state off") {
			return "windows firewall", true
		}
	}
	return "", false
}

// envReaders print file contents.
var envReaders = []string{
	"cat", "tac", "less", "more", "head", "tail", "nl", "bat", "strings",
	"xxd", "hexdump", "od", "base64", "grep", "egrep", "fgrep", "rg", "awk",
	"cut", "sort", "uniq", "paste",
}

// copyValueFlags are the short flags taking a value, per copy tool.
var copyValueFlags = map[string]string{
	"cp":      "tS",
	"install": "tSgmo",
	"scp":     "cFiJlOoPS",
}

var curlUploadFlags = []string{"-T", "--upload-file"}

func readsEnvironment(req *normalize.Request, seg shell.Segment) (string, bool) {
	for _, r := range seg.Redirects {
		if r.Op == "<" || r.Op == "<>" {
			if resolved, ok := req.Resolve(r.Path); ok && isEnvironmentFile(resolved) {
				return r.Path, true
			}
		}
	}
	for _, arg := range readOperands(seg) {
		if resolved, ok := req.Resolve(arg); ok && isEnvironmentFile(resolved) {
			return arg, true
		}
	}
	return "", false
}

// readOperands lists the files a segment reads. Copy destinations and
// curl output files are writes and never appear here.
func readOperands(seg shell.Segment) []string {
	if flags, ok := copyValueFlags[seg.Executable]; ok {
		sources, _ := seg.CopyOperands(flags, "suffix", "target-directory", "group", "mode", "owner")
		var out []string
		for _, src := range sources {
			// host:path is a remote read that writes locally.
			if seg.Executable == "scp" && strings.Contains(src, ":") {
				continue
			}
			out = append(out, src)
		}
		return out
	}
	if seg.Executable == "curl" {
		var out []string
		for _, b := range flagValues(seg.Args, curlBodyFlags) {
			// -F name=@file
			if i := strings.Index(b, "=@"); i >= 0 {
				b = b[i+1:]
			}
			if strings.HasPrefix(b, "@") {
				out = append(out, strings.TrimPrefix(b, "@"))
			}
		}
		return append(out, flagValues(seg.Args, curlUploadFlags)...)
	}
	if contains(envReaders, seg.Executable) {
		return seg.Positionals()
	}
	return nil
}

func isEnvironmentFile(path string) bool {
	if procEnvironRe.MatchString(path) {
		return true
	}
	return envFileRe.MatchString(path) && !envExampleRe.MatchString(path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
