package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/redact"
	"github.com/gzhole/agentgate/internal/shell"
)

var sensitivePaths = []pathRule{
	{ID: "ssh-dir", Pattern: regexp.MustCompile(`/\.ssh(/|$)`), Except: regexp.MustCompile(`/\.ssh/(known_hosts|[^/]+\.pub)$`), Reason: "SSH keys and config"},
	{ID: "private-key", Pattern: regexp.MustCompile(`(?i)(\.(pem|key|p12|pfx|jks|keystore)|/id_(rsa|dsa|ecdsa|ed25519))$`), Reason: "private key material"},
	{ID: "env-file", Pattern: regexp.MustCompile(`/\.env(\.[^/]+)?$`), Except: regexp.MustCompile(`\.(example|sample|template|dist|defaults)$`), Hard: true, Reason: "environment file"},
	{ID: "process-environ", Pattern: regexp.MustCompile(`^/proc/[^/]+/environ$`), Hard: true, Reason: "process environment"},
	{ID: "aws-credentials", Pattern: regexp.MustCompile(`/\.aws/(credentials|config)$`), Reason: "AWS credentials"},
	{ID: "gcloud-config", Pattern: regexp.MustCompile(`/\.config/gcloud(/|$)`), Reason: "Google Cloud credentials"},
	{ID: "azure-config", Pattern: regexp.MustCompile(`/\.azure(/|$)`), Reason: "Azure credentials"},
	{ID: "kube-config", Pattern: regexp.MustCompile(`/\.kube/config$`), Reason: "Kubernetes credentials"},
	{ID: "docker-config", Pattern: regexp.MustCompile(`/\.docker/config\.json$`), Reason: "Docker registry credentials"},
	{ID: "netrc", Pattern: regexp.MustCompile(`/\.netrc$`), Reason: "netrc credentials"},
	{ID: "package-registry-token", Pattern: regexp.MustCompile(`/\.(npmrc|pypirc|gem/credentials)$`), Reason: "package registry token"},
	{ID: "git-credentials", Pattern: regexp.MustCompile(`/\.git-credentials$`), Reason: "git credential store"},
	{ID: "gnupg", Pattern: regexp.MustCompile(`/\.gnupg(/|$)`), Reason: "GnuPG keyring"},
	{ID: "system-auth", Pattern: regexp.MustCompile(`^/etc/(shadow|gshadow|sudoers)$`), Reason: "system authentication database"},
}

// readerExecs read or search file contents given as arguments.
var readerExecs = []string{
	"cat", "tac", "less", "more", "head", "tail", "nl", "bat", "view",
	"grep", "egrep", "fgrep", "rg", "ag", "ack", "awk", "gawk",
	"strings", "xxd", "hexdump", "od", "base64", "base32",
	"diff", "cmp", "sort", "uniq", "cut", "paste", "jq", "yq",
	"source", ".", "tar", "zip", "gpg", "openssl",
	"vi", "vim", "nvim", "nano", "emacs", "code",
}

// copyValueFlags are the short flags taking a value, per copy tool. A
// copy reads its sources and writes its destination.
var copyValueFlags = map[string]string{
	"cp":      "tS",
	"install": "tSgmo",
	"scp":     "cFiJlOoPS",
}

// outputExecs print their arguments or the environment.
var outputExecs = []string{"echo", "printf", "printenv", "print", "declare", "export", "set", "env"}

// SecretClassifier flags access to credential stores and the printing of
// secret-named variables.
type SecretClassifier struct{}

func (c *SecretClassifier) Name() string   { return "secrets" }
func (c *SecretClassifier) Family() Family { return FamilySecrets }

func (c *SecretClassifier) Classify(req *normalize.Request) []Finding {
	switch req.Tool {
	case normalize.ToolFileRead:
		return secretPathFindings(req.ResolvedTargets, true, req.HostTool)
	case normalize.ToolFileWrite, normalize.ToolFileEdit:
		return secretPathFindings(req.ResolvedTargets, false, req.HostTool)
	case normalize.ToolCommandExec:
		return c.classifyCommand(req)
	}
	return nil
}

func (c *SecretClassifier) classifyCommand(req *normalize.Request) []Finding {
	var findings []Finding
	for _, seg := range segments(req) {
		var reads, edits []string
		if flags, ok := copyValueFlags[seg.Executable]; ok {
			sources, dest := seg.CopyOperands(flags, "suffix", "target-directory", "group", "mode", "owner")
			reads = append(reads, localPaths(req, sources...)...)
			edits = append(edits, localPaths(req, dest)...)
		} else if hasString(readerExecs, seg.Executable) {
			reads = append(reads, pathArgs(req, seg, false)...)
		}
		if inPlaceEdit(seg) {
			edits = append(edits, editTargets(req, seg)...)
		}
		for _, r := range seg.Redirects {
			resolved, ok := req.Resolve(r.Path)
			if !ok {
				continue
			}
			switch {
			case r.Op == "<" || r.Op == "<>":
				reads = append(reads, resolved)
			case r.Mutating():
				edits = append(edits, resolved)
			}
		}
		findings = append(findings, secretPathFindings(reads, true, seg.Executable)...)
		findings = append(findings, secretPathFindings(edits, false, seg.Executable)...)

		if f, ok := secretOutput(seg); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// secretPathFindings matches paths against the sensitive path table.
// Reads of Hard paths are hard blocks; everything else is confirmable.
func secretPathFindings(paths []string, read bool, via string) []Finding {
	var findings []Finding
	for _, p := range paths {
		for _, rule := range sensitivePaths {
			if !rule.matches(p) {
				continue
			}
			sev := SoftBlock
			if rule.Hard && read {
				sev = HardBlock
			}
			verb := "edit of"
			if read {
				verb = "read of"
			}
			findings = append(findings, Finding{
				Category: SecretAccess,
				Severity: sev,
				Family:   FamilySecrets,
				Rule:     "secrets/" + rule.ID,
				Detail:   fmt.Sprintf("%s %s (%s) via %s", verb, rule.Reason, p, via),
				Targets:  []string{p},
			})
			break
		}
	}
	return findings
}

func secretOutput(seg shell.Segment) (Finding, bool) {
	if !hasString(outputExecs, seg.Executable) {
		return Finding{}, false
	}
	names := redact.SecretVariables(strings.Join(seg.Args, " "))
	if seg.Executable == "printenv" {
		for _, a := range seg.Positionals() {
			if redact.IsSecretName(a) && !shell.IsDynamic(a) {
				names = append(names, a)
			}
		}
	}
	if len(names) == 0 {
		return Finding{}, false
	}
	return Finding{
		Category: SecretAccess,
		Severity: SoftBlock,
		Family:   FamilySecrets,
		Rule:     "secrets/variable-output",
		Detail:   fmt.Sprintf("%s prints secret-like variable %s", seg.Executable, strings.Join(names, ", ")),
	}, true
}

// localPaths resolves words naming local files. host:path operands and
// empty words are skipped.
func localPaths(req *normalize.Request, words ...string) []string {
	var out []string
	for _, w := range words {
		if w == "" || strings.Contains(w, ":") {
			continue
		}
		if resolved, ok := req.Resolve(w); ok {
			out = append(out, resolved)
		}
	}
	return out
}

// inPlaceEdit reports whether the segment edits files in place.
func inPlaceEdit(seg shell.Segment) bool {
	switch seg.Executable {
	case "sed", "gsed":
		return seg.HasFlag("i", "in-place")
	case "perl", "ruby":
		return seg.HasFlag("i")
	}
	return false
}

// editTargets returns the files an in-place sed/perl edit rewrites. The
// script argument is skipped.
func editTargets(req *normalize.Request, seg shell.Segment) []string {
	positionals := seg.Positionals()
	script, hasScript := seg.FlagValue("e", "expression")
	if !hasScript {
		if _, ok := seg.FlagValue("f", "file"); !ok && len(positionals) > 0 {
			positionals = positionals[1:]
		}
	}
	var out []string
	for _, p := range positionals {
		if hasScript && p == script {
			continue
		}
		if resolved, ok := req.Resolve(p); ok {
			out = append(out, resolved)
		}
	}
	return out
}
