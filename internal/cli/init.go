package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/policy"
)

var (
	initMode  string
	initAudit bool
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.rootguard) or system ("+policy.SystemDir+")")
	initCmd.Flags().BoolVar(&initAudit, "audit", false, "Enable the audit log next to the config file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default rootguard configuration",
	Long: `Creates the config directory and a commented config.yaml.

User mode (default):  writes to ~/.rootguard/
System mode:          writes to ` + policy.SystemDir + `/ (read when no user config exists)`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	path := filepath.Join(configDir, "config.yaml")
	content := policy.DefaultConfigYAML()
	if initAudit {
		auditPath := filepath.Join(configDir, "audit.jsonl")
		content = strings.Replace(content, `audit_log: ""`, "audit_log: "+strconv.Quote(auditPath), 1)
	}

	wrote, err := writeIfMissing(path, content)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if cmd != nil {
		out = cmd.OutOrStdout()
	}
	if wrote {
		fmt.Fprintf(out, "Created %s\n", path)
	} else {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite).\n", path)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Verify:")
	fmt.Fprintln(out, "  rootguard doctor")
	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return policy.SystemDir, nil
	case "user", "":
		dir := policy.DefaultDir()
		if dir == "" {
			return "", fmt.Errorf("cannot determine home directory")
		}
		return dir, nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
