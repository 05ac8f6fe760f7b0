package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

// OverwriteClassifier flags cp/mv whose destination already exists. The
// check reads the live filesystem at evaluation time.
type OverwriteClassifier struct {
	stat func(string) (os.FileInfo, error)
}

func NewOverwriteClassifier(stat func(string) (os.FileInfo, error)) *OverwriteClassifier {
	if stat == nil {
		stat = os.Stat
	}
	return &OverwriteClassifier{stat: stat}
}

func (c *OverwriteClassifier) Name() string   { return "overwrite" }
func (c *OverwriteClassifier) Family() Family { return FamilyDeletion }

func (c *OverwriteClassifier) Classify(req *normalize.Request) []Finding {
	stat := c.stat
	if stat == nil {
		stat = os.Stat
	}
	var findings []Finding
	for _, seg := range segments(req) {
		if seg.Executable != "cp" && seg.Executable != "mv" {
			continue
		}
		if noClobber(seg) {
			continue
		}
		clobbered := overwrittenPaths(req, seg, stat)
		if len(clobbered) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Category: Overwrite,
			Severity: SoftBlock,
			Family:   FamilyDeletion,
			Rule:     "overwrite/" + seg.Executable + "-existing-destination",
			Detail:   fmt.Sprintf("%s would replace existing %s", seg.Executable, strings.Join(clobbered, ", ")),
			Targets:  clobbered,
		})
	}
	return findings
}

func noClobber(seg shell.Segment) bool {
	if seg.HasFlag("n", "no-clobber") {
		return true
	}
	for _, a := range seg.Args {
		if a == "--update=none" || a == "--update=none-fail" {
			return true
		}
	}
	return false
}

// copyOperands splits a cp/mv invocation into sources and destination.
func copyOperands(seg shell.Segment) (sources []string, dest string) {
	return seg.CopyOperands("tS", "suffix")
}

func overwrittenPaths(req *normalize.Request, seg shell.Segment, stat func(string) (os.FileInfo, error)) []string {
	sources, dest := copyOperands(seg)
	if dest == "" {
		return nil
	}
	destPath, ok := req.Resolve(dest)
	if !ok {
		return nil
	}
	info, err := stat(destPath)
	if err != nil {
		return nil
	}

	if !info.IsDir() {
		return []string{destPath}
	}
	// -T treats an existing directory as the destination itself
	if seg.HasFlag("T", "no-target-directory") {
		return nil
	}

	var out []string
	for _, src := range sources {
		if shellDynamic(src) {
			continue
		}
		candidate := filepath.Join(destPath, baseName(src))
		if _, err := stat(candidate); err == nil {
			out = append(out, candidate)
		}
	}
	return out
}

func shellDynamic(word string) bool {
	return shell.IsDynamic(word) || strings.ContainsAny(word, "*?[")
}
