package classify

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// Ecosystem identifies a dependency manifest family.
type Ecosystem string

const (
	EcoNode   Ecosystem = "node"
	EcoPython Ecosystem = "python"
	EcoRust   Ecosystem = "rust"
	EcoGo     Ecosystem = "go"
	EcoRuby   Ecosystem = "ruby"
)

// Manifest is the set of dependency names already declared or locked in a
// project for one ecosystem.
type Manifest struct {
	Ecosystem Ecosystem
	names     map[string]bool
	// Sources lists the files that contributed names.
	Sources []string
}

// Has reports whether a (normalized) package name is already present.
func (m *Manifest) Has(name string) bool {
	name = normalizeName(m.Ecosystem, name)
	if m.names[name] {
		return true
	}
	// Go packages live beneath their module path.
	if m.Ecosystem == EcoGo {
		for mod := range m.names {
			if strings.HasPrefix(name, mod+"/") {
				return true
			}
		}
	}
	return false
}

func (m *Manifest) add(names ...string) {
	for _, n := range names {
		if n = normalizeName(m.Ecosystem, n); n != "" {
			m.names[n] = true
		}
	}
}

var manifestReaders = map[Ecosystem][]struct {
	glob string
	read func(data []byte) ([]string, error)
}{
	EcoNode: {
		{"package.json", readPackageJSON},
		{"package-lock.json", readPackageLock},
		{"yarn.lock", readYarnLock},
		{"pnpm-lock.yaml", readPnpmLock},
	},
	EcoPython: {
		{"requirements*.txt", readRequirements},
		{"pyproject.toml", readPyproject},
		{"poetry.lock", readTOMLPackages},
		{"uv.lock", readTOMLPackages},
		{"Pipfile", readPipfile},
	},
	EcoRust: {
		{"Cargo.toml", readCargoToml},
		{"Cargo.lock", readTOMLPackages},
	},
	EcoGo: {
		{"go.mod", readGoMod},
	},
	EcoRuby: {
		{"Gemfile", readGemfile},
		{"Gemfile.lock", readGemfileLock},
	},
}

// LoadManifest reads every known manifest of the ecosystem in dir. Missing
// files are skipped and unreadable ones are ignored, so an empty manifest
// means every named package is new.
func LoadManifest(dir string, eco Ecosystem) *Manifest {
	m := &Manifest{Ecosystem: eco, names: make(map[string]bool)}
	for _, r := range manifestReaders[eco] {
		matches, _ := filepath.Glob(filepath.Join(dir, r.glob))
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			names, err := r.read(data)
			if err != nil {
				continue
			}
			m.add(names...)
			m.Sources = append(m.Sources, path)
		}
	}
	return m
}

func readPackageJSON(data []byte) ([]string, error) {
	var pkg map[string]json.RawMessage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	var names []string
	for _, key := range []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"} {
		var deps map[string]string
		if raw, ok := pkg[key]; ok && json.Unmarshal(raw, &deps) == nil {
			for name := range deps {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func readPackageLock(data []byte) ([]string, error) {
	var lock struct {
		Packages     map[string]json.RawMessage `json:"packages"`
		Dependencies map[string]json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	var names []string
	for key := range lock.Packages {
		if i := strings.LastIndex(key, "node_modules/"); i >= 0 {
			names = append(names, key[i+len("node_modules/"):])
		}
	}
	for name := range lock.Dependencies {
		names = append(names, name)
	}
	return names, nil
}

// yarn.lock entries start unindented: `lodash@^4.17.21, lodash@^4.0.0:`
var yarnEntryRe = regexp.MustCompile(`^"?(@?[^@"\s,]+)@`)

func readYarnLock(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == ' ' || line[0] == '#' {
			continue
		}
		if m := yarnEntryRe.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	}
	return names, scanner.Err()
}

func readPnpmLock(data []byte) ([]string, error) {
	var lock struct {
		Dependencies    map[string]yaml.Node `yaml:"dependencies"`
		DevDependencies map[string]yaml.Node `yaml:"devDependencies"`
		Importers       map[string]struct {
			Dependencies    map[string]yaml.Node `yaml:"dependencies"`
			DevDependencies map[string]yaml.Node `yaml:"devDependencies"`
		} `yaml:"importers"`
		Packages map[string]yaml.Node `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	var names []string
	collect := func(deps map[string]yaml.Node) {
		for name := range deps {
			names = append(names, name)
		}
	}
	collect(lock.Dependencies)
	collect(lock.DevDependencies)
	for _, imp := range lock.Importers {
		collect(imp.Dependencies)
		collect(imp.DevDependencies)
	}
	for key := range lock.Packages {
		// "/lodash@4.17.21", "/@types/node/20.1.0" or "lodash@4.17.21"
		key = strings.TrimPrefix(key, "/")
		names = append(names, nodePackageName(key))
	}
	return names, nil
}

func readRequirements(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

func readPyproject(data []byte) ([]string, error) {
	var doc struct {
		Project struct {
			Dependencies         []string            `toml:"dependencies"`
			OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		} `toml:"project"`
		DependencyGroups map[string][]interface{} `toml:"dependency-groups"`
		Tool             struct {
			Poetry struct {
				Dependencies    map[string]interface{} `toml:"dependencies"`
				DevDependencies map[string]interface{} `toml:"dev-dependencies"`
				Group           map[string]struct {
					Dependencies map[string]interface{} `toml:"dependencies"`
				} `toml:"group"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	names := append([]string{}, doc.Project.Dependencies...)
	for _, deps := range doc.Project.OptionalDependencies {
		names = append(names, deps...)
	}
	for _, group := range doc.DependencyGroups {
		for _, d := range group {
			if s, ok := d.(string); ok {
				names = append(names, s)
			}
		}
	}
	for name := range doc.Tool.Poetry.Dependencies {
		names = append(names, name)
	}
	for name := range doc.Tool.Poetry.DevDependencies {
		names = append(names, name)
	}
	for _, g := range doc.Tool.Poetry.Group {
		for name := range g.Dependencies {
			names = append(names, name)
		}
	}
	return names, nil
}

func readPipfile(data []byte) ([]string, error) {
	var doc struct {
		Packages    map[string]interface{} `toml:"packages"`
		DevPackages map[string]interface{} `toml:"dev-packages"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var names []string
	for name := range doc.Packages {
		names = append(names, name)
	}
	for name := range doc.DevPackages {
		names = append(names, name)
	}
	return names, nil
}

// readTOMLPackages reads lockfiles with [[package]] name entries
// (Cargo.lock, poetry.lock, uv.lock).
func readTOMLPackages(data []byte) ([]string, error) {
	var lock struct {
		Package []struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}
	if err := toml.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(lock.Package))
	for _, p := range lock.Package {
		names = append(names, p.Name)
	}
	return names, nil
}

func readCargoToml(data []byte) ([]string, error) {
	var doc struct {
		Dependencies      map[string]interface{} `toml:"dependencies"`
		DevDependencies   map[string]interface{} `toml:"dev-dependencies"`
		BuildDependencies map[string]interface{} `toml:"build-dependencies"`
		Workspace         struct {
			Dependencies map[string]interface{} `toml:"dependencies"`
		} `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var names []string
	for _, deps := range []map[string]interface{}{doc.Dependencies, doc.DevDependencies, doc.BuildDependencies, doc.Workspace.Dependencies} {
		for name := range deps {
			names = append(names, name)
		}
	}
	return names, nil
}

func readGoMod(data []byte) ([]string, error) {
	f, err := modfile.ParseLax("go.mod", data, nil)
	if err != nil {
		return nil, err
	}
	var names []string
	if f.Module != nil {
		names = append(names, f.Module.Mod.Path)
	}
	for _, r := range f.Require {
		names = append(names, r.Mod.Path)
	}
	for _, r := range f.Replace {
		names = append(names, r.Old.Path)
	}
	return names, nil
}

var gemLineRe = regexp.MustCompile(`^\s*gem\s+['"]([^'"]+)['"]`)

func readGemfile(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := gemLineRe.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	return names, scanner.Err()
}

// Gemfile.lock specs are indented four spaces: `    rails (7.1.0)`
var gemSpecRe = regexp.MustCompile(`^    ([A-Za-z0-9_.-]+) \(`)

func readGemfileLock(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := gemSpecRe.FindStringSubmatch(scanner.Text()); m != nil {
			names = append(names, m[1])
		}
	}
	return names, scanner.Err()
}

var pythonNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)

// normalizeName reduces a package spec ("lodash@4", "Django>=4.2",
// "serde@1.0") to the name manifests record.
func normalizeName(eco Ecosystem, spec string) string {
	spec = strings.TrimSpace(spec)
	switch eco {
	case EcoNode:
		return nodePackageName(spec)
	case EcoPython:
		name := pythonNameRe.FindString(spec)
		name = strings.ToLower(name)
		return strings.NewReplacer("_", "-", ".", "-").Replace(name)
	case EcoRust:
		if i := strings.Index(spec, "@"); i > 0 {
			spec = spec[:i]
		}
		return strings.ReplaceAll(strings.ToLower(spec), "_", "-")
	case EcoGo:
		if i := strings.Index(spec, "@"); i > 0 {
			spec = spec[:i]
		}
		return spec
	case EcoRuby:
		if i := strings.IndexAny(spec, ":@ "); i > 0 {
			spec = spec[:i]
		}
		return spec
	}
	return spec
}

// nodePackageName strips a version from "name@range" or "@scope/name@range".
func nodePackageName(spec string) string {
	start := 0
	if strings.HasPrefix(spec, "@") {
		start = 1
	}
	if i := strings.Index(spec[start:], "@"); i >= 0 {
		spec = spec[:start+i]
	}
	// pnpm v5 keys use a slash before the version: "@types/node/20.1.0"
	parts := strings.Split(spec, "/")
	if len(parts) > 1 && len(parts[len(parts)-1]) > 0 && parts[len(parts)-1][0] >= '0' && parts[len(parts)-1][0] <= '9' {
		spec = strings.Join(parts[:len(parts)-1], "/")
	}
	return spec
}
