package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/audit"
)

var (
	logFilterOutcome string
	logFilterTool    string
	logLast          int
	logSummary       bool
	logFollow        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the agentgate audit log with filtering and summary options.

Examples:
  agentgate log                        # Show all entries
  agentgate log --last 20              # Show last 20 entries
  agentgate log --outcome block        # Show only blocked requests
  agentgate log --tool FileRead        # Show only file reads
  agentgate log --summary              # Show summary stats
  agentgate log --follow               # Stream new entries as they are written`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterOutcome, "outcome", "", "Filter by outcome (allow, block, abstain)")
	logCmd.Flags().StringVar(&logFilterTool, "tool", "", "Filter by canonical tool (CommandExec, FileRead, ...)")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "Keep printing entries as they are appended")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	entries, err := audit.Read(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	filtered := filterEntries(entries, logFilterOutcome, logFilterTool)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(entries)
		return nil
	}

	if len(filtered) == 0 && !logFollow {
		fmt.Println("No audit log entries found.")
		return nil
	}
	printEntries(filtered)

	if !logFollow {
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return audit.Follow(ctx, cfg.LogPath, func(e audit.Entry) {
		if len(filterEntries([]audit.Entry{e}, logFilterOutcome, logFilterTool)) == 1 {
			printEntries([]audit.Entry{e})
		}
	})
}

func filterEntries(entries []audit.Entry, outcome, tool string) []audit.Entry {
	if outcome == "" && tool == "" {
		return entries
	}
	var filtered []audit.Entry
	for _, e := range entries {
		if outcome != "" && !strings.EqualFold(e.Outcome, outcome) {
			continue
		}
		if tool != "" && !strings.EqualFold(e.Tool, tool) && !strings.EqualFold(e.HostTool, tool) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEntries(entries []audit.Entry) {
	for _, e := range entries {
		outcomeLabel(e.Outcome)
		fmt.Printf(" %s %s %s\n", formatTimestamp(e.Timestamp), e.Tool, e.Payload)

		if len(e.Rules) > 0 {
			fmt.Printf("     Rules:   %s\n", strings.Join(e.Rules, ", "))
		}
		if len(e.Targets) > 0 {
			fmt.Printf("     Targets: %s\n", strings.Join(e.Targets, ", "))
		}
		if e.UserAction != "" {
			fmt.Printf("     Action:  %s\n", e.UserAction)
		}
		if e.Advisory != "" {
			fmt.Printf("     Advice:  %s\n", e.Advisory)
		}
		if e.Error != "" {
			fmt.Printf("     Error:   %s\n", e.Error)
		}
		if e.Source != "" {
			dimColor.Printf("     Source:  %s\n", e.Source)
		}
		fmt.Println()
	}
}

func printSummary(all []audit.Entry) {
	counts := map[string]int{}
	ruleCounts := map[string]int{}
	errorCount := 0
	for _, e := range all {
		counts[e.Outcome]++
		for _, r := range e.Rules {
			ruleCounts[r]++
		}
		if e.Error != "" {
			errorCount++
		}
	}

	fmt.Println("═══════════════════════════════════════════")
	fmt.Println("  agentgate Audit Summary")
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Total entries:   %d\n", len(all))
	fmt.Printf("  allow:           %d\n", counts["allow"])
	fmt.Printf("  block:           %d\n", counts["block"])
	fmt.Printf("  abstain:         %d\n", counts["abstain"])
	fmt.Printf("  Errors:          %d\n", errorCount)
	fmt.Println("═══════════════════════════════════════════")

	if len(all) > 0 {
		fmt.Printf("  First entry:     %s\n", formatTimestamp(all[0].Timestamp))
		fmt.Printf("  Last entry:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))
	}

	var blocked []audit.Entry
	for _, e := range all {
		if e.Outcome == "block" {
			blocked = append(blocked, e)
		}
	}
	if len(blocked) > 0 {
		fmt.Println()
		fmt.Println("  Recent blocks:")
		limit := len(blocked)
		if limit > 10 {
			limit = 10
		}
		for _, e := range blocked[len(blocked)-limit:] {
			fmt.Printf("    %s %s  [%s]\n", formatTimestamp(e.Timestamp), e.Payload, strings.Join(e.Rules, ", "))
		}
	}
	fmt.Println()
}

func outcomeLabel(outcome string) {
	switch outcome {
	case "block":
		blockColor.Printf("%-7s", "BLOCK")
	case "allow":
		allowColor.Printf("%-7s", "ALLOW")
	default:
		dimColor.Printf("%-7s", strings.ToUpper(outcome))
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
