// Package shell splits command text into pipeline segments using a bash
// parser, so classifiers can reason about each simple command, its words
// and its redirects instead of the whole string.
package shell

import (
	"path/filepath"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Command is the segmented form of a command string.
type Command struct {
	Raw       string
	Segments  []Segment
	Operators []string // "|", "&&", "||", ";" in source order
	Pipes     []Pipe   // producer/consumer pairs by segment index

	// Fallback is true when the bash parser rejected the input and the
	// segments come from operator/whitespace splitting.
	Fallback bool
}

// Segment is a single simple command.
type Segment struct {
	Raw        string   // all words, wrappers included
	Executable string   // base name of the real command (sudo/env/... stripped)
	Args       []string // words after the executable
	Redirects  []Redirect
}

// Redirect is a single I/O redirection.
type Redirect struct {
	Op   string // ">", ">>", "<", "&>", "<<<", ...
	Path string
}

// Pipe links the segment writing to a pipe with the one reading from it.
type Pipe struct {
	From int
	To   int
}

// Mutating reports whether the redirect can create or truncate its target.
func (r Redirect) Mutating() bool {
	switch r.Op {
	case ">", ">>", ">|", "&>", "&>>", "<>":
		return true
	}
	return false
}

// Parse segments a command string. It never fails: input the bash parser
// rejects is split on control operators instead.
func Parse(command string) *Command {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return fallbackParse(command)
	}

	c := &Command{Raw: command}
	index := make(map[*syntax.Stmt]int)
	var pipes []*syntax.BinaryCmd

	for i, stmt := range file.Stmts {
		if i > 0 {
			c.Operators = append(c.Operators, ";")
		}
		syntax.Walk(stmt, func(node syntax.Node) bool {
			switch n := node.(type) {
			case *syntax.Stmt:
				if seg, ok := stmtSegment(n); ok {
					index[n] = len(c.Segments)
					c.Segments = append(c.Segments, seg)
				}
			case *syntax.BinaryCmd:
				c.Operators = append(c.Operators, n.Op.String())
				if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
					pipes = append(pipes, n)
				}
			}
			return true
		})
	}

	for _, bin := range pipes {
		from, okFrom := index[lastCall(bin.X)]
		to, okTo := index[firstCall(bin.Y)]
		if okFrom && okTo {
			c.Pipes = append(c.Pipes, Pipe{From: from, To: to})
		}
	}
	return c
}

// stmtSegment converts a statement holding a simple command (or a bare
// redirect such as "> file") into a Segment.
func stmtSegment(stmt *syntax.Stmt) (Segment, bool) {
	var words []string
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		for _, w := range cmd.Args {
			words = append(words, wordString(w))
		}
		if len(words) == 0 && len(stmt.Redirs) == 0 {
			return Segment{}, false
		}
	case nil:
		if len(stmt.Redirs) == 0 {
			return Segment{}, false
		}
	default:
		return Segment{}, false
	}

	seg := newSegment(words)
	for _, r := range stmt.Redirs {
		redir := Redirect{Op: r.Op.String()}
		if r.Word != nil {
			redir.Path = wordString(r.Word)
		}
		seg.Redirects = append(seg.Redirects, redir)
	}
	return seg, true
}

func firstCall(stmt *syntax.Stmt) *syntax.Stmt {
	if stmt == nil {
		return nil
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		return stmt
	case *syntax.BinaryCmd:
		return firstCall(cmd.X)
	case *syntax.Subshell:
		if len(cmd.Stmts) > 0 {
			return firstCall(cmd.Stmts[0])
		}
	case *syntax.Block:
		if len(cmd.Stmts) > 0 {
			return firstCall(cmd.Stmts[0])
		}
	}
	return nil
}

func lastCall(stmt *syntax.Stmt) *syntax.Stmt {
	if stmt == nil {
		return nil
	}
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		return stmt
	case *syntax.BinaryCmd:
		return lastCall(cmd.Y)
	case *syntax.Subshell:
		if len(cmd.Stmts) > 0 {
			return lastCall(cmd.Stmts[len(cmd.Stmts)-1])
		}
	case *syntax.Block:
		if len(cmd.Stmts) > 0 {
			return lastCall(cmd.Stmts[len(cmd.Stmts)-1])
		}
	}
	return nil
}

// wordString renders a word with quotes removed. Expansions such as $VAR
// and $(cmd) are kept in their source form.
func wordString(w *syntax.Word) string {
	if w == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, dp := range p.Parts {
				if lit, ok := dp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				} else {
					sb.WriteString(printNode(dp))
				}
			}
		default:
			sb.WriteString(printNode(part))
		}
	}
	return sb.String()
}

func printNode(node syntax.Node) string {
	var sb strings.Builder
	if err := syntax.NewPrinter().Print(&sb, node); err != nil {
		return ""
	}
	return sb.String()
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// wrappers run another command; the real executable follows them.
// The value lists name flags that consume the next word.
var wrappers = map[string][]string{
	"sudo":    {"-u", "-g", "-C", "-h", "-p", "-U", "-r", "-t"},
	"doas":    {"-u", "-C"},
	"env":     {"-u", "-C", "-S"},
	"nohup":   nil,
	"time":    {"-f", "-o"},
	"nice":    {"-n"},
	"ionice":  {"-c", "-n", "-p"},
	"exec":    {"-a"},
	"stdbuf":  {"-i", "-o", "-e"},
	"timeout": {"-s", "-k"},
	"xargs":   {"-n", "-I", "-L", "-P", "-d", "-s", "-E", "-a"},
}

func newSegment(words []string) Segment {
	seg := Segment{Raw: strings.Join(words, " ")}
	rest := words
	for len(rest) > 0 {
		name := filepath.Base(rest[0])
		valueFlags, isWrapper := wrappers[name]
		if !isWrapper {
			break
		}
		rest = rest[1:]
	flags:
		for len(rest) > 0 {
			w := rest[0]
			switch {
			case w == "--":
				rest = rest[1:]
				break flags
			case strings.HasPrefix(w, "-"):
				rest = rest[1:]
				if contains(valueFlags, w) && len(rest) > 0 {
					rest = rest[1:]
				}
			case name == "env" && strings.Contains(w, "=") && !strings.HasPrefix(w, "="):
				rest = rest[1:]
			default:
				break flags
			}
		}
		if name == "timeout" && len(rest) > 0 {
			rest = rest[1:] // duration
		}
	}
	if len(rest) == 0 {
		return seg
	}
	seg.Executable = filepath.Base(rest[0])
	seg.Args = rest[1:]
	return seg
}

// Text is the executable followed by its arguments, wrappers removed.
func (s Segment) Text() string {
	if len(s.Args) == 0 {
		return s.Executable
	}
	return s.Executable + " " + strings.Join(s.Args, " ")
}

// CopyOperands splits a cp/mv/install/scp argument list into sources and
// destination. valueFlags lists the short flags that take a value, either
// attached (-tDIR) or as the next word, including at the end of a cluster
// (-vt DIR). "t" and --target-directory name the destination directory.
// valueLong lists long flags that take the next word.
func (s Segment) CopyOperands(valueFlags string, valueLong ...string) (sources []string, dest string) {
	var operands []string
	target := ""
	endOfFlags := false
	for i := 0; i < len(s.Args); i++ {
		a := s.Args[i]
		switch {
		case endOfFlags || a == "-" || !strings.HasPrefix(a, "-"):
			operands = append(operands, a)
		case a == "--":
			endOfFlags = true
		case strings.HasPrefix(a, "--"):
			name, value, hasValue := strings.Cut(a[2:], "=")
			if name != "target-directory" && !contains(valueLong, name) {
				continue
			}
			if !hasValue && i+1 < len(s.Args) {
				i++
				value = s.Args[i]
			}
			if name == "target-directory" {
				target = value
			}
		default:
			for j := 1; j < len(a); j++ {
				if !strings.ContainsRune(valueFlags, rune(a[j])) {
					continue
				}
				value := a[j+1:]
				if value == "" && i+1 < len(s.Args) {
					i++
					value = s.Args[i]
				}
				if a[j] == 't' {
					target = value
				}
				break
			}
		}
	}

	if target != "" {
		return operands, target
	}
	if len(operands) < 2 {
		return nil, ""
	}
	return operands[:len(operands)-1], operands[len(operands)-1]
}

// Positionals returns arguments that are not flags. Everything after "--"
// is positional.
func (s Segment) Positionals() []string {
	var out []string
	endOfFlags := false
	for _, a := range s.Args {
		if !endOfFlags && a == "--" {
			endOfFlags = true
			continue
		}
		if !endOfFlags && strings.HasPrefix(a, "-") && a != "-" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// SubCommand returns the first positional argument ("install" in
// "npm install lodash").
func (s Segment) SubCommand() string {
	if p := s.Positionals(); len(p) > 0 {
		return p[0]
	}
	return ""
}

// HasFlag reports whether any of the short flag letters (combined forms
// like -rf included) or long flag names is present.
func (s Segment) HasFlag(short string, long ...string) bool {
	for _, a := range s.Args {
		if a == "--" {
			return false
		}
		if strings.HasPrefix(a, "--") {
			name := strings.TrimPrefix(a, "--")
			if i := strings.Index(name, "="); i >= 0 {
				name = name[:i]
			}
			if contains(long, name) {
				return true
			}
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 && short != "" {
			if strings.ContainsAny(a[1:], short) {
				return true
			}
		}
	}
	return false
}

// FlagValue returns the value of a flag given as "--name=value",
// "--name value", "-x value" or "-xvalue".
func (s Segment) FlagValue(short string, long ...string) (string, bool) {
	for i, a := range s.Args {
		if a == "--" {
			break
		}
		next := func() (string, bool) {
			if i+1 < len(s.Args) {
				return s.Args[i+1], true
			}
			return "", false
		}
		if strings.HasPrefix(a, "--") {
			name := strings.TrimPrefix(a, "--")
			if eq := strings.Index(name, "="); eq >= 0 {
				if contains(long, name[:eq]) {
					return name[eq+1:], true
				}
				continue
			}
			if contains(long, name) {
				return next()
			}
			continue
		}
		if short != "" && strings.HasPrefix(a, "-"+short) {
			if len(a) > len(short)+1 {
				return a[len(short)+1:], true
			}
			return next()
		}
	}
	return "", false
}

// HasDynamicArgs reports whether any argument carries a parameter or
// command substitution.
func (s Segment) HasDynamicArgs() bool {
	for _, a := range s.Args {
		if dynamicRe.MatchString(a) {
			return true
		}
	}
	return false
}

var dynamicRe = regexp.MustCompile("\\$[({A-Za-z_]|`")

// IsDynamic reports whether a word contains an unexpanded substitution.
func IsDynamic(word string) bool {
	return dynamicRe.MatchString(word)
}

// Executables lists the executables of every segment.
func (c *Command) Executables() []string {
	out := make([]string, 0, len(c.Segments))
	for _, seg := range c.Segments {
		if seg.Executable != "" {
			out = append(out, seg.Executable)
		}
	}
	return out
}

// Join quotes args into a single bash command line that parses back to the
// same words.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = a
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}

var fallbackSplitRe = regexp.MustCompile(`\|\||&&|\|&|;|\||\n`)

// fallbackParse handles input the bash parser cannot parse.
func fallbackParse(command string) *Command {
	c := &Command{Raw: command, Fallback: true}
	ops := fallbackSplitRe.FindAllString(command, -1)
	parts := fallbackSplitRe.Split(command, -1)
	for i, part := range parts {
		words := strings.Fields(part)
		if i > 0 && i-1 < len(ops) {
			op := ops[i-1]
			if op == "\n" {
				op = ";"
			}
			c.Operators = append(c.Operators, op)
			if (op == "|" || op == "|&") && len(words) > 0 && len(c.Segments) > 0 {
				c.Pipes = append(c.Pipes, Pipe{From: len(c.Segments) - 1, To: len(c.Segments)})
			}
		}
		if len(words) == 0 {
			continue
		}
		var plain []string
		var redirs []Redirect
		for j := 0; j < len(words); j++ {
			w := strings.Trim(words[j], `"'`)
			op, path := splitRedirect(w)
			if op == "" {
				plain = append(plain, w)
				continue
			}
			if path == "" && j+1 < len(words) {
				j++
				path = strings.Trim(words[j], `"'`)
			}
			redirs = append(redirs, Redirect{Op: op, Path: path})
		}
		seg := newSegment(plain)
		seg.Redirects = redirs
		c.Segments = append(c.Segments, seg)
	}
	return c
}

var redirectTokenRe = regexp.MustCompile(`^(?:[0-9]*)(>>|>\||>|<<<|<|&>>|&>)(.*)$`)

func splitRedirect(w string) (string, string) {
	m := redirectTokenRe.FindStringSubmatch(w)
	if m == nil {
		return "", ""
	}
	if strings.HasPrefix(m[2], "&") {
		// fd duplication such as 2>&1
		return ">&", m[2][1:]
	}
	return m[1], m[2]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
