package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

var deletionRules = []segmentRule{
	{ID: "rm", Exec: []string{"rm"}, Reason: "file removal"},
	{ID: "rmdir", Exec: []string{"rmdir"}, Reason: "directory removal"},
	{ID: "unlink", Exec: []string{"unlink"}, Reason: "file unlink"},
	{ID: "secure-erase", Exec: []string{"shred", "srm", "wipe"}, Reason: "secure erase"},
	{ID: "truncate", Exec: []string{"truncate"}, Reason: "file truncation"},
	{
		ID:      "find-delete",
		Exec:    []string{"find", "fd"},
		Pattern: regexp.MustCompile(`(^|\s)-delete(\s|$)|-exec(dir)?\s+(rm|shred|unlink)\b|(^|\s)(-x|--exec)\s+rm\b`),
		Reason:  "find and delete",
	},
	{
		ID:   "git-clean",
		Exec: []string{"git"},
		When: func(seg shell.Segment) bool {
			return seg.SubCommand() == "clean" && seg.HasFlag("f", "force") && !seg.HasFlag("n", "dry-run")
		},
		Reason: "git clean removes untracked files",
	},
	{
		ID:   "git-reset-hard",
		Exec: []string{"git"},
		When: func(seg shell.Segment) bool {
			return seg.SubCommand() == "reset" && seg.HasFlag("", "hard")
		},
		Reason: "git reset --hard discards uncommitted work",
	},
	{
		ID:      "git-discard-changes",
		Exec:    []string{"git"},
		Pattern: regexp.MustCompile(`^git\s+(checkout\s+(--\s+)?\.|restore\s+(--worktree\s+)?\.)(\s|$)`),
		Reason:  "git checkout/restore discards working tree changes",
	},
	{
		ID:      "git-history-drop",
		Exec:    []string{"git"},
		Pattern: regexp.MustCompile(`^git\s+(stash\s+(drop|clear)|branch\s+(-D|--delete\s+--force|-d\s+-f)|push\s+.*(--force|-f\b|--delete|:refs/))`),
		Reason:  "version-control history removal",
	},
	{
		ID:   "rsync-delete",
		Exec: []string{"rsync"},
		When: func(seg shell.Segment) bool {
			for _, a := range seg.Args {
				if strings.HasPrefix(a, "--delete") || a == "--remove-source-files" {
					return true
				}
			}
			return false
		},
		Reason: "rsync deletes files at the destination",
	},
	{
		ID:   "truncating-redirect",
		Exec: []string{"", ":", "true"},
		When: func(seg shell.Segment) bool {
			for _, r := range seg.Redirects {
				if r.Op == ">" || r.Op == ">|" {
					return true
				}
			}
			return false
		},
		Reason: "empty redirect truncates the target",
	},
}

// DeletionClassifier flags file and directory removal.
type DeletionClassifier struct{}

func (c *DeletionClassifier) Name() string   { return "deletion" }
func (c *DeletionClassifier) Family() Family { return FamilyDeletion }

func (c *DeletionClassifier) Classify(req *normalize.Request) []Finding {
	var findings []Finding
	for _, seg := range segments(req) {
		for _, rule := range deletionRules {
			if !rule.matches(seg) {
				continue
			}
			targets := deletionTargets(req, seg, rule.ID)
			findings = append(findings, Finding{
				Category: Deletion,
				Severity: SoftBlock,
				Family:   FamilyDeletion,
				Rule:     "deletion/" + rule.ID,
				Detail:   fmt.Sprintf("%s: %s", rule.Reason, seg.Text()),
				Targets:  targets,
			})
			break
		}
	}
	return findings
}

func deletionTargets(req *normalize.Request, seg shell.Segment, ruleID string) []string {
	switch ruleID {
	case "rm", "rmdir", "unlink", "secure-erase":
		return pathArgs(req, seg, true)
	case "truncate":
		out := pathArgs(req, seg, true)
		// -s SIZE is a flag value, not a file
		if size, ok := seg.FlagValue("s", "size"); ok {
			if resolved, ok := req.Resolve(size); ok {
				out = removeString(out, resolved)
			}
		}
		return out
	case "truncating-redirect":
		var out []string
		for _, r := range seg.Redirects {
			if r.Op == ">" || r.Op == ">|" {
				if resolved, ok := req.Resolve(r.Path); ok {
					out = append(out, resolved)
				}
			}
		}
		return out
	}
	return pathArgs(req, seg, false)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
