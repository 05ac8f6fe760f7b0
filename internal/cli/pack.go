package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentgate/internal/policy"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage policy packs",
	Long: `Policy packs are YAML files of extra hard-block and safe-allow rules,
stored in ~/.agentgate/packs/ and merged with policy.yaml at runtime. A pack
can never weaken the built-in hard blocklist.

Examples:
  agentgate pack list               # List installed packs
  agentgate pack enable infra       # Enable a pack
  agentgate pack disable infra      # Disable a pack (prefix with underscore)
  agentgate pack show infra         # Print a pack`,
}

var packListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed policy packs",
	RunE:  packList,
}

var packEnableCmd = &cobra.Command{
	Use:   "enable <pack-name>",
	Short: "Enable a disabled policy pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePack(args[0], true)
	},
}

var packDisableCmd = &cobra.Command{
	Use:   "disable <pack-name>",
	Short: "Disable a policy pack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePack(args[0], false)
	},
}

var packShowCmd = &cobra.Command{
	Use:   "show <pack-name>",
	Short: "Show a policy pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packShow,
}

func init() {
	packCmd.AddCommand(packListCmd)
	packCmd.AddCommand(packEnableCmd)
	packCmd.AddCommand(packDisableCmd)
	packCmd.AddCommand(packShowCmd)
	rootCmd.AddCommand(packCmd)
}

func packsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.PacksDir, 0700); err != nil {
		return "", err
	}
	return cfg.PacksDir, nil
}

func packList(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	_, infos, err := policy.LoadPacks(dir, policy.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("failed to load packs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No policy packs installed.")
		fmt.Printf("\nTo install packs, copy YAML files to: %s\n", dir)
		return nil
	}

	fmt.Println("Installed Policy Packs:")
	fmt.Println(strings.Repeat("─", 60))
	for _, info := range infos {
		switch {
		case info.Err != nil:
			blockColor.Printf("  broken ")
		case info.Enabled:
			allowColor.Printf("  on     ")
		default:
			dimColor.Printf("  off    ")
		}
		fmt.Printf("%-25s %s\n", info.Name, info.Description)
		if info.Err != nil {
			fmt.Printf("         %v\n", info.Err)
		} else if info.Version != "" {
			fmt.Printf("         v%s by %s  (%d rules)\n", info.Version, info.Author, info.RuleCount)
		}
	}
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("\nPacks directory: %s\n", dir)
	return nil
}

func togglePack(name string, enable bool) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	from, to, verb := packFiles(dir, name, enable)
	if _, err := os.Stat(from); err == nil {
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to %s pack: %w", verb, err)
		}
		fmt.Printf("Pack '%s' %sd.\n", name, verb)
		return nil
	}
	if _, err := os.Stat(to); err == nil {
		fmt.Printf("Pack '%s' is already %sd.\n", name, verb)
		return nil
	}
	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

// packFiles returns the source and destination names for a toggle.
func packFiles(dir, name string, enable bool) (from, to, verb string) {
	enabled := filepath.Join(dir, name+".yaml")
	disabled := filepath.Join(dir, "_"+name+".yaml")
	if enable {
		return disabled, enabled, "enable"
	}
	return enabled, disabled, "disable"
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	name := args[0]
	path := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, "_"+name+".yaml")
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("pack '%s' not found in %s", name, dir)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
