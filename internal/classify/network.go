package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/redact"
	"github.com/gzhole/agentgate/internal/shell"
)

var networkRules = []segmentRule{
	{ID: "raw-socket", Exec: []string{"nc", "ncat", "netcat", "socat", "telnet", "cryptcat", "pwncat"}, Severity: HardBlock,
		Reason: "raw socket tool can carry arbitrary data"},
	{ID: "tls-socket", Exec: []string{"openssl"}, Pattern: regexp.MustCompile(`^openssl\s+s_client\b`), Severity: HardBlock,
		Reason: "openssl s_client opens a raw TLS channel"},
	{ID: "dev-tcp", When: usesDevSocket, Severity: HardBlock,
		Reason: "/dev/tcp or /dev/udp redirection opens a raw socket"},
	{ID: "icmp-payload", Exec: []string{"ping", "ping6", "hping3", "nping"},
		When: func(seg shell.Segment) bool {
			if seg.Executable != "ping" && seg.Executable != "ping6" {
				return true
			}
			return seg.HasFlag("p", "pattern") || seg.HasDynamicArgs()
		},
		Severity: HardBlock, Reason: "ICMP echo carrying a custom or substituted payload"},
	{ID: "dns-dynamic", Exec: []string{"dig", "nslookup", "host", "drill", "delv", "resolvectl", "kdig"},
		When:     func(seg shell.Segment) bool { return seg.HasDynamicArgs() },
		Severity: HardBlock, Reason: "DNS lookup of a substituted name can smuggle data"},
	{ID: "http-upload", Exec: []string{"curl", "wget", "http", "https", "xh"}, When: httpUpload, Severity: HardBlock,
		Reason: "HTTP request uploads a local file"},
	{ID: "http-secret-url", Exec: []string{"curl", "wget", "http", "https", "xh"}, When: secretInURL, Severity: HardBlock,
		Reason: "HTTP request embeds a secret-like variable in the URL"},

	{ID: "remote-shell", Exec: []string{"ssh", "mosh", "autossh"}, Severity: SoftBlock,
		Reason: "remote shell session"},
	{ID: "remote-copy", Exec: []string{"scp", "sftp"}, Severity: SoftBlock,
		Reason: "remote file copy"},
	{ID: "remote-sync", Exec: []string{"rsync"}, When: hasRemoteOperand, Severity: SoftBlock,
		Reason: "rsync to or from a remote host"},
}

// NetworkClassifier flags commands that can move data off the machine.
type NetworkClassifier struct{}

func (c *NetworkClassifier) Name() string   { return "network" }
func (c *NetworkClassifier) Family() Family { return FamilyNetwork }

func (c *NetworkClassifier) Classify(req *normalize.Request) []Finding {
	if req.Tool == normalize.ToolNetworkFetch {
		if redact.ContainsSecret(req.RawPayload) || len(redact.SecretVariables(req.RawPayload)) > 0 {
			return []Finding{{
				Category: NetworkExfiltration,
				Severity: HardBlock,
				Family:   FamilyNetwork,
				Rule:     "network/fetch-url-secret",
				Detail:   "fetch URL carries a credential: " + redact.Redact(req.RawPayload),
			}}
		}
		return nil
	}

	var findings []Finding
	for _, seg := range segments(req) {
		for _, rule := range networkRules {
			if !rule.matches(seg) {
				continue
			}
			findings = append(findings, Finding{
				Category: NetworkExfiltration,
				Severity: rule.Severity,
				Family:   FamilyNetwork,
				Rule:     "network/" + rule.ID,
				Detail:   fmt.Sprintf("%s: %s", rule.Reason, redact.Redact(seg.Text())),
			})
			break
		}
	}
	return findings
}

func usesDevSocket(seg shell.Segment) bool {
	isSocket := func(p string) bool {
		return strings.HasPrefix(p, "/dev/tcp/") || strings.HasPrefix(p, "/dev/udp/")
	}
	for _, r := range seg.Redirects {
		if isSocket(r.Path) {
			return true
		}
	}
	for _, a := range seg.Args {
		if isSocket(a) {
			return true
		}
	}
	return false
}

// curlDataFlags send their value as the request body; "@file" reads a file.
var curlDataFlags = []string{"-d", "--data", "--data-binary", "--data-raw", "--data-ascii", "--data-urlencode", "--json"}

var httpieFileRe = regexp.MustCompile(`^[A-Za-z0-9_-]+=?@`)

func httpUpload(seg shell.Segment) bool {
	if seg.Executable == "wget" {
		for _, a := range seg.Args {
			if strings.HasPrefix(a, "--post-file") || strings.HasPrefix(a, "--body-file") {
				return true
			}
		}
		return false
	}
	if seg.Executable != "curl" {
		// httpie: field@file, field=@file
		for _, a := range seg.Args {
			if !strings.HasPrefix(a, "-") && httpieFileRe.MatchString(a) {
				return true
			}
		}
		return false
	}

	args := seg.Args
	for i, a := range args {
		next := ""
		if i+1 < len(args) {
			next = args[i+1]
		}
		switch {
		case a == "-F" || a == "--form" || a == "-T" || a == "--upload-file":
			return true
		case strings.HasPrefix(a, "--form=") || strings.HasPrefix(a, "--upload-file="):
			return true
		case strings.HasPrefix(a, "-F") && len(a) > 2, strings.HasPrefix(a, "-T") && len(a) > 2:
			return true
		case hasString(curlDataFlags, a):
			if strings.HasPrefix(next, "@") {
				return true
			}
		case strings.HasPrefix(a, "-d@"):
			return true
		}
		for _, f := range curlDataFlags {
			if strings.HasPrefix(a, f+"=@") {
				return true
			}
		}
	}
	return false
}

var headerFlags = []string{"-H", "--header", "-u", "--user", "-A", "--user-agent", "-e", "--referer", "-b", "--cookie", "-o", "--output", "-O"}

// secretInURL reports whether a URL argument dereferences a secret-like
// variable. Header values are legitimate places for credentials.
func secretInURL(seg shell.Segment) bool {
	for i, a := range seg.Args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if i > 0 && hasString(headerFlags, seg.Args[i-1]) {
			continue
		}
		if i > 0 && hasString(curlDataFlags, seg.Args[i-1]) {
			continue
		}
		if len(redact.SecretVariables(a)) > 0 {
			return true
		}
	}
	return false
}

var remoteOperandRe = regexp.MustCompile(`^([A-Za-z0-9._-]+@)?[A-Za-z0-9._-]+:|^rsync://`)

func hasRemoteOperand(seg shell.Segment) bool {
	for _, p := range seg.Positionals() {
		if remoteOperandRe.MatchString(p) {
			return true
		}
	}
	return false
}
