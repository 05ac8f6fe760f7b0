package cli

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	configDir   string
	logPath     string
	projectRoot string
	approvalTTL time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "agentgate - command policy gateway for coding agents",
	Long: `agentgate sits between an autonomous coding agent and its tools. Every
shell command, file read, file write and fetch the agent proposes is checked
before it runs: catastrophic operations are always refused, risky ones are
refused until the agent deliberately re-submits the identical request, and
routine work passes through untouched.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default: ~/.agentgate)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to audit log file (default: ~/.agentgate/audit.jsonl)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "Project root for scope checks (default: event cwd)")
	rootCmd.PersistentFlags().DurationVar(&approvalTTL, "ttl", 0, "Confirmation window for soft-blocked requests (default: 600s)")
}

func Execute() error {
	return rootCmd.Execute()
}
