package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/approval"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect or clear pending confirmations",
	Long: `A soft-blocked request leaves a pending confirmation (a "strike") in the
cache. Re-submitting the identical request before it expires consumes the
strike and lets the request through.

  agentgate approvals list
  agentgate approvals clear`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending confirmations",
	RunE:  approvalsList,
}

var approvalsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every pending confirmation",
	RunE:  approvalsClear,
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsClearCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func approvalStore() (*approval.FileStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return approval.NewFileStore(cfg.ApprovalDir, cfg.ApprovalTTL, nil), nil
}

func approvalsList(cmd *cobra.Command, args []string) error {
	store, err := approvalStore()
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No pending confirmations.")
		return nil
	}

	now := time.Now()
	fmt.Printf("  %-10s  %-14s  %-8s  %s\n", "FAMILY", "FINGERPRINT", "AGE", "EXPIRES IN")
	for _, r := range records {
		fmt.Printf("  %-10s  %-14s  %-8s  %s\n",
			r.Namespace,
			shortFingerprint(r.Fingerprint),
			now.Sub(r.RecordedAt).Round(time.Second),
			r.ExpiresAt.Sub(now).Round(time.Second))
	}
	fmt.Printf("\nStore: %s\n", store.Dir())
	return nil
}

func approvalsClear(cmd *cobra.Command, args []string) error {
	store, err := approvalStore()
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("Pending confirmations cleared.")
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
