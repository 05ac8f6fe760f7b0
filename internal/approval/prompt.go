package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Answer is what the operator chose at an interactive confirmation.
type Answer struct {
	Approved   bool
	UserAction string
}

// Prompt describes a soft-blocked request shown to the operator.
type Prompt struct {
	Payload string
	Rules   []string
	Reasons []string
	Targets []string
}

func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Ask prompts on the controlling terminal. Without one it denies.
func Ask(p Prompt) Answer {
	if !IsInteractive() {
		return Answer{Approved: false, UserAction: "auto_deny_non_interactive"}
	}
	return AskWith(os.Stdin, os.Stderr, p)
}

// AskWith runs the prompt loop against arbitrary streams.
func AskWith(in io.Reader, out io.Writer, p Prompt) Answer {
	warn := color.New(color.FgYellow, color.Bold)

	fmt.Fprintln(out, "")
	warn.Fprintln(out, "CONFIRMATION REQUIRED")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Request: %s\n", p.Payload)

	if len(p.Targets) > 0 {
		fmt.Fprintf(out, "Targets: %s\n", strings.Join(p.Targets, ", "))
	}
	if len(p.Rules) > 0 {
		fmt.Fprintf(out, "Triggered rules: %s\n", strings.Join(p.Rules, ", "))
	}
	if len(p.Reasons) > 0 {
		fmt.Fprintln(out, "Reasons:")
		for _, reason := range p.Reasons {
			fmt.Fprintf(out, "  - %s\n", reason)
		}
	}

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  [a] Approve once - execute this request")
	fmt.Fprintln(out, "  [d] Deny - block this request")
	fmt.Fprintln(out, "")

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Your choice [a/d]: ")
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return Answer{Approved: false, UserAction: "error_reading_input"}
		}

		switch strings.TrimSpace(strings.ToLower(input)) {
		case "a", "approve", "yes", "y":
			return Answer{Approved: true, UserAction: "approve_once"}
		case "d", "deny", "no", "n":
			return Answer{Approved: false, UserAction: "deny"}
		default:
			if err != nil {
				return Answer{Approved: false, UserAction: "error_reading_input"}
			}
			fmt.Fprintln(out, "Invalid input. Please enter 'a' to approve or 'd' to deny.")
		}
	}
}
