package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/approval"
	"github.com/gzhole/agentgate/internal/gate"
	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/shell"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command through agentgate",
	Long: `Run a command through agentgate's policy layer. The command and its
arguments follow --. Hard blocks are refused. Soft blocks ask for
confirmation on the terminal instead of waiting for a resubmission, and
are denied when no terminal is attached.

Example:
  agentgate run -- echo "hello world"
  agentgate run -- npm install left-pad
  agentgate run -- 'rm -rf build && make'`,
	RunE: runCommand,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command provided. Usage: agentgate run -- <command> [args...]")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Confirmation is interactive here, so strikes are not shared with hooks.
	gw, err := newGateway(cfg, approval.NewMemoryStore(cfg.ApprovalTTL, nil))
	if err != nil {
		return err
	}

	command := shell.Join(args)
	execArgs := args
	if len(args) == 1 {
		command = args[0]
		execArgs = []string{"/bin/sh", "-c", args[0]}
	}

	cwd, _ := os.Getwd()
	req, err := normalize.FromEvent(normalize.Event{
		ToolName: "Bash",
		Input:    map[string]interface{}{"command": command},
		Cwd:      cwd,
	}, cfg.ResolveProjectRoot(cwd))
	if err != nil {
		return err
	}

	v := gw.Evaluate(req)
	userAction := ""

	if v.Outcome == gate.Block {
		if v.Hard {
			blockColor.Fprintln(os.Stderr, "\nBLOCKED by agentgate")
			fmt.Fprintln(os.Stderr, v.Reason)
			recordVerdict(cfg, req, v, "run", "", nil)
			os.Exit(1)
		}

		answer := approval.Ask(approval.Prompt{
			Payload: command,
			Rules:   v.Rules,
			Reasons: findingDetails(v),
			Targets: v.Targets,
		})
		userAction = answer.UserAction
		if !answer.Approved {
			blockColor.Fprintln(os.Stderr, "\nCommand denied")
			recordVerdict(cfg, req, v, "run", userAction, nil)
			os.Exit(1)
		}
		allowColor.Fprintln(os.Stderr, "\nApproved - executing command...")
		v.Outcome = gate.Allow
	}

	if v.Advisory != "" {
		warnColor.Fprintln(os.Stderr, v.Advisory)
	}

	execCmd := exec.Command(execArgs[0], execArgs[1:]...)
	execCmd.Stdin = os.Stdin
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execErr := execCmd.Run()

	recordVerdict(cfg, req, v, "run", userAction, execErr)

	if execErr != nil {
		var exitErr *exec.ExitError
		if errors.As(execErr, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return execErr
	}
	return nil
}

func findingDetails(v gate.Verdict) []string {
	var out []string
	for _, f := range v.Findings {
		out = append(out, f.Rule+": "+f.Detail)
	}
	return out
}
