package classify

import (
	"path/filepath"
	"testing"
)

func projectWithManifests(t *testing.T) string {
	t.Helper()
	root := realDir(t)
	writeFile(t, filepath.Join(root, "package.json"), `{
  "name": "app",
  "dependencies": {"lodash": "^4.17.21"},
  "devDependencies": {"@types/node": "^20.0.0"}
}`)
	writeFile(t, filepath.Join(root, "requirements.txt"), "requests==2.31.0\n# pinned\nDjango>=4.2\n-r dev.txt\n")
	writeFile(t, filepath.Join(root, "Cargo.toml"), "[package]\nname = \"app\"\n\n[dependencies]\nserde = { version = \"1\", features = [\"derive\"] }\n")
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/app\n\ngo 1.22\n\nrequire github.com/spf13/cobra v1.8.0\n")
	writeFile(t, filepath.Join(root, "Gemfile"), "source 'https://rubygems.org'\ngem 'rails', '~> 7.1'\n")
	return root
}

func TestPackages_Install(t *testing.T) {
	root := projectWithManifests(t)
	c := &PackageClassifier{}

	tests := []struct {
		command string
		want    string // rule, "" for none
	}{
		{"npm install", ""},
		{"npm ci", ""},
		{"npm run build", ""},
		{"npm install lodash", ""},
		{"npm install lodash@4.17.21 @types/node@20", ""},
		{"npm i left-pad", "packages/npm-new-dependency"},
		{"npm install --registry https://registry.example.com left-pad", "packages/npm-new-dependency"},
		{"npm install --registry https://registry.example.com", ""},
		{"yarn", ""},
		{"yarn add react", "packages/yarn-new-dependency"},
		{"pnpm add -D vitest", "packages/pnpm-new-dependency"},
		{"pip install requests django", ""},
		{"pip install -r requirements.txt", ""},
		{"pip install -e .", ""},
		{"pip install flask", "packages/pip-new-dependency"},
		{"python3 -m pip install flask", "packages/pip-new-dependency"},
		{"uv pip install Requests", ""},
		{"poetry add httpx", "packages/poetry-new-dependency"},
		{"cargo add serde", ""},
		{"cargo add tokio --features full", "packages/cargo-new-dependency"},
		{"cargo build", ""},
		{"go get github.com/spf13/cobra@v1.9.0", ""},
		{"go get github.com/spf13/cobra/doc", ""},
		{"go get golang.org/x/sync", "packages/go-new-dependency"},
		{"go install ./cmd/...", ""},
		{"go build ./...", ""},
		{"gem install rails", ""},
		{"bundle add sidekiq", "packages/bundle-new-dependency"},
		{"bundle install", ""},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			findings := c.Classify(cmdReq(t, root, tt.command))
			if tt.want == "" {
				if len(findings) != 0 {
					t.Errorf("expected no findings, got %+v", findings)
				}
				return
			}
			if len(findings) != 1 || findings[0].Rule != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, ruleIDs(findings))
			}
			if findings[0].Severity != SoftBlock || findings[0].Category != PackageInstall {
				t.Errorf("unexpected finding shape %+v", findings[0])
			}
		})
	}
}

func TestPackages_SystemManagers(t *testing.T) {
	root := realDir(t)
	c := &PackageClassifier{}

	tests := []struct {
		command string
		want    string
	}{
		{"sudo apt-get install -y curl", "packages/apt-install"},
		{"brew install jq", "packages/brew-install"},
		{"dnf install -y git", "packages/yum-install"},
		{"apk add --no-cache bash", "packages/apk-install"},
		{"pacman -S ripgrep", "packages/pacman-install"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			findings := c.Classify(cmdReq(t, root, tt.command))
			if len(findings) != 2 {
				t.Fatalf("expected soft block plus warning, got %v", ruleIDs(findings))
			}
			if findings[0].Rule != tt.want || findings[0].Severity != SoftBlock {
				t.Errorf("first finding = %s/%s", findings[0].Rule, findings[0].Severity)
			}
			if findings[1].Rule != "packages/system-manager" || findings[1].Severity != Warn {
				t.Errorf("second finding = %s/%s", findings[1].Rule, findings[1].Severity)
			}
		})
	}

	for _, cmd := range []string{"apt-get update", "apt-get install", "pacman -Syu", "pacman -Ss ripgrep", "brew list"} {
		if findings := c.Classify(cmdReq(t, root, cmd)); len(findings) != 0 {
			t.Errorf("%q: expected no findings, got %v", cmd, ruleIDs(findings))
		}
	}
}

func TestLoadManifest_Lockfiles(t *testing.T) {
	root := realDir(t)
	writeFile(t, filepath.Join(root, "package-lock.json"), `{
  "lockfileVersion": 3,
  "packages": {
    "": {"name": "app"},
    "node_modules/express": {"version": "4.18.2"},
    "node_modules/express/node_modules/debug": {"version": "2.6.9"}
  }
}`)
	writeFile(t, filepath.Join(root, "yarn.lock"), `# yarn lockfile v1

"@babel/core@^7.0.0", "@babel/core@^7.1.0":
  version "7.23.0"

chalk@^5.0.0:
  version "5.3.0"
`)
	writeFile(t, filepath.Join(root, "pnpm-lock.yaml"), `lockfileVersion: '9.0'
importers:
  .:
    dependencies:
      vue:
        specifier: ^3.4.0
        version: 3.4.21
packages:
  /@vue/shared@3.4.21:
    resolution: {integrity: sha512-x}
`)

	node := LoadManifest(root, EcoNode)
	for _, name := range []string{"express", "debug", "@babel/core", "chalk", "vue", "@vue/shared"} {
		if !node.Has(name) {
			t.Errorf("node manifest missing %s (sources %v)", name, node.Sources)
		}
	}
	if node.Has("react") {
		t.Error("react should not be present")
	}

	writeFile(t, filepath.Join(root, "pyproject.toml"), `[project]
name = "app"
dependencies = ["httpx>=0.27", "pydantic[email]"]

[tool.poetry.dependencies]
Rich = "^13"

[tool.poetry.group.dev.dependencies]
pytest = "^8"
`)
	writeFile(t, filepath.Join(root, "uv.lock"), `version = 1

[[package]]
name = "anyio"
version = "4.3.0"
`)
	py := LoadManifest(root, EcoPython)
	for _, name := range []string{"httpx", "HTTPX", "pydantic", "rich", "pytest", "anyio"} {
		if !py.Has(name) {
			t.Errorf("python manifest missing %s", name)
		}
	}

	writeFile(t, filepath.Join(root, "Cargo.lock"), `[[package]]
name = "serde_json"
version = "1.0.0"
`)
	if !LoadManifest(root, EcoRust).Has("serde-json") {
		t.Error("cargo lock names should compare with - and _ folded")
	}

	writeFile(t, filepath.Join(root, "Gemfile.lock"), `GEM
  remote: https://rubygems.org/
  specs:
    puma (6.4.0)
      nio4r (~> 2.0)
`)
	ruby := LoadManifest(root, EcoRuby)
	if !ruby.Has("puma") || ruby.Has("nio4r") {
		t.Errorf("gem specs should come from four-space entries only")
	}
}

func TestLoadManifest_Malformed(t *testing.T) {
	root := realDir(t)
	writeFile(t, filepath.Join(root, "package.json"), "{not json")
	m := LoadManifest(root, EcoNode)
	if m.Has("anything") || len(m.Sources) != 0 {
		t.Errorf("malformed manifest should contribute nothing: %v", m.Sources)
	}
}
