package classify

import (
	"fmt"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// packageManager describes how one tool installs dependencies.
type packageManager struct {
	Name       string
	Exec       []string
	Installs   []string // subcommands that add packages
	Ecosystem  Ecosystem
	System     bool
	ValueFlags []string // flags that consume the next word
}

var packageManagers = []packageManager{
	{Name: "npm", Exec: []string{"npm"}, Installs: []string{"install", "i", "add", "isntall", "in"}, Ecosystem: EcoNode,
		ValueFlags: []string{"--registry", "--prefix", "-w", "--workspace", "--cache", "--tag", "-C"}},
	{Name: "yarn", Exec: []string{"yarn"}, Installs: []string{"add"}, Ecosystem: EcoNode,
		ValueFlags: []string{"--registry", "--cwd"}},
	{Name: "pnpm", Exec: []string{"pnpm"}, Installs: []string{"add", "install", "i"}, Ecosystem: EcoNode,
		ValueFlags: []string{"--registry", "--filter", "-F", "-C", "--dir"}},
	{Name: "bun", Exec: []string{"bun"}, Installs: []string{"add", "install", "i"}, Ecosystem: EcoNode,
		ValueFlags: []string{"--registry", "--cwd"}},
	{Name: "pip", Exec: []string{"pip", "pip3"}, Installs: []string{"install"}, Ecosystem: EcoPython,
		ValueFlags: []string{"-r", "--requirement", "-c", "--constraint", "-i", "--index-url", "--extra-index-url", "-t", "--target", "--prefix", "-f", "--find-links", "-e", "--editable"}},
	{Name: "uv", Exec: []string{"uv"}, Installs: []string{"add"}, Ecosystem: EcoPython,
		ValueFlags: []string{"--index-url", "--extra-index-url", "--group", "--optional", "-r", "--requirements"}},
	{Name: "poetry", Exec: []string{"poetry"}, Installs: []string{"add"}, Ecosystem: EcoPython,
		ValueFlags: []string{"-G", "--group", "--source", "-E", "--extras"}},
	{Name: "pipenv", Exec: []string{"pipenv"}, Installs: []string{"install"}, Ecosystem: EcoPython,
		ValueFlags: []string{"-r", "--requirements", "-i", "--index"}},
	{Name: "cargo", Exec: []string{"cargo"}, Installs: []string{"add", "install"}, Ecosystem: EcoRust,
		ValueFlags: []string{"--git", "--path", "--version", "--vers", "-F", "--features", "--registry", "--rev", "--branch", "--tag", "--root", "--rename"}},
	{Name: "go", Exec: []string{"go"}, Installs: []string{"get", "install"}, Ecosystem: EcoGo,
		ValueFlags: []string{"-C", "-tags", "-ldflags", "-gcflags", "-o", "-modfile", "-p"}},
	{Name: "gem", Exec: []string{"gem"}, Installs: []string{"install"}, Ecosystem: EcoRuby,
		ValueFlags: []string{"-v", "--version", "-i", "--install-dir", "-s", "--source"}},
	{Name: "bundle", Exec: []string{"bundle", "bundler"}, Installs: []string{"add"}, Ecosystem: EcoRuby,
		ValueFlags: []string{"-v", "--version", "--group", "--source"}},

	{Name: "apt", Exec: []string{"apt", "apt-get", "aptitude"}, Installs: []string{"install"}, System: true,
		ValueFlags: []string{"-o", "-t", "--target-release", "-c"}},
	{Name: "yum", Exec: []string{"yum", "dnf", "microdnf"}, Installs: []string{"install"}, System: true,
		ValueFlags: []string{"--repo", "--enablerepo", "--disablerepo", "-c"}},
	{Name: "zypper", Exec: []string{"zypper"}, Installs: []string{"install", "in"}, System: true},
	{Name: "apk", Exec: []string{"apk"}, Installs: []string{"add"}, System: true,
		ValueFlags: []string{"-X", "--repository"}},
	{Name: "brew", Exec: []string{"brew"}, Installs: []string{"install"}, System: true},
	{Name: "snap", Exec: []string{"snap"}, Installs: []string{"install"}, System: true,
		ValueFlags: []string{"--channel"}},
	{Name: "port", Exec: []string{"port"}, Installs: []string{"install"}, System: true},
	{Name: "choco", Exec: []string{"choco"}, Installs: []string{"install"}, System: true},
	{Name: "winget", Exec: []string{"winget"}, Installs: []string{"install"}, System: true},
	{Name: "pacman", Exec: []string{"pacman", "yay", "paru"}, System: true},
}

// PackageClassifier flags installs that introduce dependencies the project
// does not already declare. System package managers are always flagged.
type PackageClassifier struct{}

func (c *PackageClassifier) Name() string   { return "packages" }
func (c *PackageClassifier) Family() Family { return FamilyPackages }

func (c *PackageClassifier) Classify(req *normalize.Request) []Finding {
	var findings []Finding
	manifests := make(map[Ecosystem]*Manifest)
	for _, seg := range segments(req) {
		pm, pkgs, ok := installRequest(seg)
		if !ok || len(pkgs) == 0 {
			continue
		}

		if pm.System {
			findings = append(findings,
				Finding{
					Category: PackageInstall,
					Severity: SoftBlock,
					Family:   FamilyPackages,
					Rule:     "packages/" + pm.Name + "-install",
					Detail:   fmt.Sprintf("%s installs system packages: %s", seg.Executable, strings.Join(pkgs, ", ")),
				},
				Finding{
					Category: PackageInstall,
					Severity: Warn,
					Family:   FamilyPackages,
					Rule:     "packages/system-manager",
					Detail:   fmt.Sprintf("%s changes the whole machine, not just this project", seg.Executable),
				})
			continue
		}

		m, loaded := manifests[pm.Ecosystem]
		if !loaded {
			m = LoadManifest(req.ProjectRoot, pm.Ecosystem)
			manifests[pm.Ecosystem] = m
		}
		var fresh []string
		for _, p := range pkgs {
			if !m.Has(p) {
				fresh = append(fresh, p)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Category: PackageInstall,
			Severity: SoftBlock,
			Family:   FamilyPackages,
			Rule:     "packages/" + pm.Name + "-new-dependency",
			Detail:   fmt.Sprintf("%s adds dependencies not in the project manifest: %s", pm.Name, strings.Join(fresh, ", ")),
		})
	}
	return findings
}

// installRequest recognizes an install invocation and returns the package
// arguments it names.
func installRequest(seg shell.Segment) (packageManager, []string, bool) {
	exec, args := seg.Executable, seg.Args

	// python -m pip install ...
	if strings.HasPrefix(exec, "python") && len(args) >= 2 && args[0] == "-m" && strings.HasPrefix(args[1], "pip") {
		exec, args = "pip", args[2:]
	}
	// uv pip install ...
	if exec == "uv" && len(args) >= 2 && args[0] == "pip" {
		exec, args = "pip", args[1:]
	}

	for _, pm := range packageManagers {
		if !hasString(pm.Exec, exec) {
			continue
		}
		operands := operandsSkipping(args, pm.ValueFlags)
		if pm.Name == "pacman" {
			// pacman -S pkg; -Ss searches and -Sy/-Syu refresh
			if !pacmanInstall(args) {
				return pm, nil, false
			}
			return pm, packageArgs(pm, operands), true
		}
		if len(operands) == 0 || !hasString(pm.Installs, operands[0]) {
			return pm, nil, false
		}
		return pm, packageArgs(pm, operands[1:]), true
	}
	return packageManager{}, nil, false
}

func pacmanInstall(args []string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, "-S") && !strings.ContainsAny(a[2:], "sicgl") {
			return true
		}
		if a == "--sync" {
			return true
		}
	}
	return false
}

// packageArgs drops operands that are local paths, archives or URLs.
func packageArgs(pm packageManager, operands []string) []string {
	var out []string
	for _, o := range operands {
		switch {
		case o == "." || o == "..":
		case strings.HasPrefix(o, "./"), strings.HasPrefix(o, "../"), strings.HasPrefix(o, "/"), strings.HasPrefix(o, "~"):
		case strings.Contains(o, "://"), strings.HasPrefix(o, "file:"), strings.HasPrefix(o, "git+"):
		case strings.HasSuffix(o, ".tgz"), strings.HasSuffix(o, ".whl"), strings.HasSuffix(o, ".tar.gz"), strings.HasSuffix(o, ".gem"), strings.HasSuffix(o, ".deb"), strings.HasSuffix(o, ".rpm"):
		case pm.Ecosystem == EcoGo && strings.HasSuffix(o, "..."):
			if !strings.Contains(o, ".") || strings.HasPrefix(o, ".") {
				continue
			}
			out = append(out, strings.TrimSuffix(strings.TrimSuffix(o, "..."), "/"))
		default:
			out = append(out, o)
		}
	}
	return out
}

// operandsSkipping returns non-flag words, skipping the values of listed
// flags.
func operandsSkipping(args, valueFlags []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			out = append(out, args[i+1:]...)
			break
		}
		if strings.HasPrefix(a, "-") {
			if hasString(valueFlags, a) && i+1 < len(args) {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}
