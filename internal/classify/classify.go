// Package classify holds the rule classifiers. Each classifier inspects one
// normalized request and reports zero or more findings; none of them keep
// state between calls or touch the approval store.
package classify

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// Category is the kind of risk a finding describes.
type Category string

const (
	Deletion            Category = "Deletion"
	Overwrite           Category = "Overwrite"
	SecretAccess        Category = "SecretAccess"
	ScopeViolation      Category = "ScopeViolation"
	PackageInstall      Category = "PackageInstall"
	NetworkExfiltration Category = "NetworkExfiltration"
	PromptInjection     Category = "PromptInjection"
)

// Severity orders findings. Higher is more restrictive.
type Severity int

const (
	Warn Severity = iota + 1
	SoftBlock
	HardBlock
)

func (s Severity) String() string {
	switch s {
	case Warn:
		return "warn"
	case SoftBlock:
		return "soft-block"
	case HardBlock:
		return "hard-block"
	}
	return "unknown"
}

// Family is a guard family. Each family has its own approval namespace so
// confirming one kind of risk never confirms another.
type Family string

const (
	FamilyDeletion  Family = "deletion"
	FamilySecrets   Family = "secrets"
	FamilyPackages  Family = "packages"
	FamilyScope     Family = "scope"
	FamilyNetwork   Family = "network"
	FamilyInjection Family = "injection"
)

// Families lists every guard family in evaluation order.
var Families = []Family{FamilyDeletion, FamilySecrets, FamilyPackages, FamilyScope, FamilyNetwork, FamilyInjection}

// Finding is a single classifier result.
type Finding struct {
	Category Category
	Severity Severity
	Family   Family
	Rule     string   // rule that fired
	Detail   string   // operator-facing explanation
	Targets  []string // resolved paths implicated, if any
}

// Classifier maps a request to findings.
type Classifier interface {
	Name() string
	Family() Family
	Classify(req *normalize.Request) []Finding
}

// Options configure the classifiers that depend on the environment.
type Options struct {
	// AllowedPrefixes are writable outside the project root.
	AllowedPrefixes []string
	// ScanLimit caps the bytes of tool output inspected for injection.
	ScanLimit int
	// Stat checks live filesystem state; os.Stat when nil.
	Stat func(string) (os.FileInfo, error)
}

func (o Options) stat() func(string) (os.FileInfo, error) {
	if o.Stat != nil {
		return o.Stat
	}
	return os.Stat
}

// PreTool returns the classifiers that run before a tool executes.
func PreTool(opts Options) []Classifier {
	return []Classifier{
		&DeletionClassifier{},
		&OverwriteClassifier{stat: opts.stat()},
		&SecretClassifier{},
		&ScopeClassifier{allowed: opts.AllowedPrefixes},
		&PackageClassifier{},
		&NetworkClassifier{},
	}
}

// PostTool returns the classifiers that inspect tool output.
func PostTool(opts Options) []Classifier {
	return []Classifier{&InjectionClassifier{limit: opts.ScanLimit}}
}

// Registry runs a fixed set of classifiers.
type Registry struct {
	classifiers []Classifier
}

func NewRegistry(classifiers ...Classifier) *Registry {
	return &Registry{classifiers: classifiers}
}

// Run collects findings from every classifier in order.
func (r *Registry) Run(req *normalize.Request) []Finding {
	var all []Finding
	for _, c := range r.classifiers {
		all = append(all, c.Classify(req)...)
	}
	return all
}

// Without returns a registry minus the classifiers whose name or family is
// listed.
func (r *Registry) Without(names ...string) *Registry {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	var kept []Classifier
	for _, c := range r.classifiers {
		if skip[c.Name()] || skip[string(c.Family())] {
			continue
		}
		kept = append(kept, c)
	}
	return &Registry{classifiers: kept}
}

// Classifiers returns the registered classifiers (for inspection/testing).
func (r *Registry) Classifiers() []Classifier {
	return r.classifiers
}

// segmentRule is one row of a command rule table. A rule fires on a
// segment when the executable is listed (or Exec is empty), Pattern (if
// set) matches the segment text, and When (if set) returns true.
type segmentRule struct {
	ID       string
	Exec     []string
	Pattern  *regexp.Regexp
	When     func(seg shell.Segment) bool
	Severity Severity
	Reason   string
}

func (r segmentRule) matches(seg shell.Segment) bool {
	if len(r.Exec) > 0 && !hasString(r.Exec, seg.Executable) {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(seg.Text()) {
		return false
	}
	if r.When != nil && !r.When(seg) {
		return false
	}
	return true
}

// pathRule is one row of a path rule table, matched against resolved
// absolute paths.
type pathRule struct {
	ID      string
	Pattern *regexp.Regexp
	Except  *regexp.Regexp
	// Hard marks paths whose direct read is never confirmable.
	Hard   bool
	Reason string
}

func (r pathRule) matches(path string) bool {
	if !r.Pattern.MatchString(path) {
		return false
	}
	return r.Except == nil || !r.Except.MatchString(path)
}

// pathArgs resolves the segment's positional arguments. With all set every
// positional is treated as a path; otherwise only path-looking words are.
func pathArgs(req *normalize.Request, seg shell.Segment, all bool) []string {
	var out []string
	for _, arg := range seg.Positionals() {
		if !all && !normalize.LooksLikePath(arg) {
			continue
		}
		if resolved, ok := req.Resolve(arg); ok {
			out = append(out, resolved)
		}
	}
	return out
}

func segments(req *normalize.Request) []shell.Segment {
	if req.Tool != normalize.ToolCommandExec || req.Command == nil {
		return nil
	}
	return req.Command.Segments
}

func hasString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func baseName(path string) string {
	return filepath.Base(filepath.Clean(path))
}
