package classify

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/unicode"
)

// injectionFamily is one group of phrasing that tries to steer an agent
// reading tool output.
type injectionFamily struct {
	ID       string
	Reason   string
	Patterns []*regexp.Regexp
}

var injectionFamilies = []injectionFamily{
	{
		ID:     "instruction-override",
		Reason: "text tries to override the agent's instructions",
		Patterns: compilePatterns(
			`(?i)\b(ignore|disregard|forget|override|bypass)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|preceding|your|system)\s+(instructions?|rules?|directives?|prompts?|guidelines?|constraints?)`,
			`(?i)\bnew\s+(system\s+)?instructions?\s*:`,
			`(?i)\bdo\s+not\s+follow\s+(your|the)\s+(previous|original|system)\s+(instructions?|rules?)`,
			`(?i)\bfrom\s+now\s+on,?\s+(you\s+)?(must|will|should)\b`,
		),
	},
	{
		ID:     "role-hijack",
		Reason: "text tries to reassign the agent's role",
		Patterns: compilePatterns(
			`(?i)\byou\s+are\s+now\s+(a|an|in|the)\b`,
			`(?i)\b(DAN|developer|god|unrestricted)\s+mode\b`,
			`(?i)\bjailbreak(ed|ing)?\b`,
			`(?i)\bpretend\s+(you\s+are|to\s+be)\b`,
			`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|unfiltered|uncensored|evil)\b`,
		),
	},
	{
		ID:     "spoofed-authority",
		Reason: "text impersonates a system or operator message",
		Patterns: compilePatterns(
			`(?im)^\s*(system|assistant|developer)\s*:\s*\S`,
			`(?i)\[\s*(system|admin|developer|operator)(\s+(message|note|override|instruction))?\s*\]`,
			`<\|?(system|im_start|endoftext)\|?>`,
			`(?i)\b(message|instructions?|notice)\s+from\s+(anthropic|openai|the\s+(system\s+)?administrator|your\s+developers?)\b`,
			`(?i)\bIMPORTANT\s*:\s*(the\s+)?(assistant|AI|agent|model|claude)\b`,
		),
	},
	{
		ID:     "smuggled-directive",
		Reason: "directives hidden in comments or markup",
		Patterns: compilePatterns(
			`(?is)<!--.{0,400}?\b(ignore|instructions?|assistant|agent|AI|execute|run)\b.{0,400}?-->`,
			`(?is)/\*.{0,400}?\b(AI|assistant|agent|LLM)\b.{0,80}?\b(must|should|please|run|execute)\b.{0,400}?\*/`,
			`(?i)<\s*(hidden|invisible)\b[^>]*>`,
			`(?i)style\s*=\s*["'][^"']*(display\s*:\s*none|font-size\s*:\s*0)`,
		),
	},
	{
		ID:     "exfiltration-imperative",
		Reason: "text asks the agent to send secrets somewhere",
		Patterns: compilePatterns(
			`(?i)\b(send|post|upload|transmit|exfiltrate|forward|leak|email)\b.{0,60}\b(api[_ -]?keys?|credentials?|secrets?|tokens?|passwords?|\.env\b|ssh\s+keys?|private\s+keys?|environment\s+variables)`,
			`(?i)\b(curl|wget)\b[^\n]{0,120}\$\{?[A-Z_]*(KEY|TOKEN|SECRET|PASSWORD)`,
			`(?i)\b(cat|print|reveal|show|output|display)\b.{0,30}(~/\.ssh|\.aws/credentials|\.env\b|id_rsa)`,
		),
	},
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// InjectionClassifier scans tool output for text that tries to steer the
// agent. It only ever warns, since the tool has already run.
type InjectionClassifier struct {
	limit int
}

func NewInjectionClassifier(limit int) *InjectionClassifier {
	return &InjectionClassifier{limit: limit}
}

func (c *InjectionClassifier) Name() string   { return "injection" }
func (c *InjectionClassifier) Family() Family { return FamilyInjection }

func (c *InjectionClassifier) Classify(req *normalize.Request) []Finding {
	if req.Phase != normalize.PhasePost || req.Output == "" {
		return nil
	}
	text := scanWindow(req.Output, c.limit)

	var findings []Finding
	for _, fam := range injectionFamilies {
		for _, re := range fam.Patterns {
			loc := re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			findings = append(findings, Finding{
				Category: PromptInjection,
				Severity: Warn,
				Family:   FamilyInjection,
				Rule:     "injection/" + fam.ID,
				Detail:   fmt.Sprintf("%s: %q", fam.Reason, snippet(text[loc[0]:loc[1]])),
			})
			break
		}
	}

	if scan := unicode.Scan(text, 0); !scan.Clean {
		detail := fmt.Sprintf("invisible characters in output (%s)", strings.Join(scan.Categories(), ", "))
		if scan.TagText != "" {
			detail += fmt.Sprintf(", tag text %q", snippet(scan.TagText))
		}
		findings = append(findings, Finding{
			Category: PromptInjection,
			Severity: Warn,
			Family:   FamilyInjection,
			Rule:     "injection/hidden-unicode",
			Detail:   detail,
		})
	}
	return findings
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// scanWindow returns at most limit bytes of text, ending on a rune
// boundary. A limit of zero or less means no cap.
func scanWindow(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
