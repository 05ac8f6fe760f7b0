package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/approval"
	"github.com/gzhole/agentgate/internal/classify"
	"github.com/gzhole/agentgate/internal/config"
	"github.com/gzhole/agentgate/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agentgate status: hooks, policy, guards, confirmations, audit log",
	Long: `Check whether agentgate is active: which agent hooks are installed, which
guard families are enabled, and whether policy and audit files exist.

  agentgate status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("  agentgate Status")
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println()

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Printf("  Binary:    %s (%s)\n", binPath, Version)
	fmt.Printf("  Config:    %s\n", cfg.ConfigDir)
	fmt.Printf("  TTL:       %s\n", cfg.ApprovalTTL)
	root := cfg.ProjectRoot
	if root == "" {
		root = "(event cwd)"
	}
	fmt.Printf("  Project:   %s\n", root)
	fmt.Println()

	fmt.Println("─── Agent Hooks ───────────────────────────────────────")
	checkHook("Claude Code", claudeSettingsPath())
	checkHook("Cursor", cursorHooksPath())
	checkHook("Windsurf", windsurfHooksPath())
	if os.Getenv(bypassEnv) == "1" {
		warnColor.Printf("  %s=1 is set: every hook call abstains\n", bypassEnv)
	}
	fmt.Println()

	fmt.Println("─── Guards ────────────────────────────────────────────")
	for _, fam := range classify.Families {
		if cfg.GuardEnabled(string(fam)) {
			allowColor.Printf("  on   ")
		} else {
			warnColor.Printf("  off  ")
		}
		fmt.Println(fam)
	}
	fmt.Println()

	fmt.Println("─── Policy ────────────────────────────────────────────")
	checkPolicyFile(cfg.PolicyPath)
	checkPacks(cfg)
	fmt.Println()

	fmt.Println("─── Confirmations ─────────────────────────────────────")
	records, err := approval.NewFileStore(cfg.ApprovalDir, cfg.ApprovalTTL, nil).List()
	if err != nil {
		warnColor.Printf("  store unavailable: %v\n", err)
	} else {
		fmt.Printf("  %d pending (%s)\n", len(records), cfg.ApprovalDir)
	}
	fmt.Println()

	fmt.Println("─── Audit Log ─────────────────────────────────────────")
	checkAuditLog(cfg.LogPath)
	fmt.Println()
	return nil
}

func checkHook(name, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		dimColor.Printf("  --  %s: not configured\n", name)
		return
	}
	if strings.Contains(string(data), hookCommandLine) {
		allowColor.Printf("  ok  ")
		fmt.Printf("%s: hook active (%s)\n", name, path)
	} else {
		dimColor.Printf("  --  %s: settings exist but no agentgate hook\n", name)
	}
}

func checkPolicyFile(path string) {
	if _, err := os.Stat(path); err == nil {
		if _, err := policy.Load(path); err != nil {
			blockColor.Printf("  !!  ")
			fmt.Printf("Policy: %s (%v)\n", path, err)
			return
		}
		allowColor.Printf("  ok  ")
		fmt.Printf("Policy: %s\n", path)
	} else {
		dimColor.Println("  --  Policy: built-in tables only (no policy.yaml)")
	}
}

func checkPacks(cfg *config.Config) {
	_, infos, err := policy.LoadPacks(cfg.PacksDir, policy.DefaultPolicy())
	if err != nil {
		blockColor.Printf("  !!  ")
		fmt.Printf("Policy packs: %v\n", err)
		return
	}
	if len(infos) == 0 {
		dimColor.Println("  --  No policy packs installed")
		return
	}
	enabled, broken := 0, 0
	for _, info := range infos {
		if info.Err != nil {
			broken++
		} else if info.Enabled {
			enabled++
		}
	}
	allowColor.Printf("  ok  ")
	fmt.Printf("Policy packs: %d installed, %d enabled", len(infos), enabled)
	if broken > 0 {
		warnColor.Printf(", %d broken", broken)
	}
	fmt.Println()
}

func checkAuditLog(path string) {
	info, err := os.Stat(path)
	if err != nil {
		dimColor.Printf("  --  %s (not yet created, starts on first event)\n", path)
		return
	}
	sizeKB := info.Size() / 1024
	allowColor.Printf("  ok  ")
	if sizeKB == 0 {
		fmt.Printf("%s (<1 KB)\n", path)
	} else {
		fmt.Printf("%s (%d KB)\n", path, sizeKB)
	}
}
