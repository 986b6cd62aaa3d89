package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/audit"
	"github.com/ppiankov/rootguard/internal/policy"
)

var (
	tailLines  int
	tailFollow bool
	tailFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().BoolVar(&tailFollow, "follow", false, "Keep printing entries as they are appended")
	auditTailCmd.Flags().StringVarP(&tailFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: "Commands for verifying and inspecting the hash-chained verdict log.\n" +
		"The path defaults to audit_log from the config file.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify an audit log's hash chain and verdicts",
	Long: "Walks the JSONL audit log. Every entry's prev_hash must match the SHA-256\n" +
		"of the previous entry, and every entry must be a self-consistent verdict:\n" +
		"confidence definite or heuristic, a non-empty basis that agrees with\n" +
		"is_privileged, and unknowns present whenever confidence is heuristic.\n" +
		"Exits 0 if valid, 1 at the first bad line.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Prints the last N verdicts from the audit log as a timeline.\nWith --follow, keeps printing new verdicts until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := policy.LoadConfig(configPath)
	if err != nil {
		return "", &exitError{code: exitConfig, err: err}
	}
	if cfg.AuditLog == "" {
		return "", &exitError{code: exitConfig, err: errors.New("no audit log path given and audit_log is not configured")}
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified (%d refused, %d heuristic)\n",
			result.Lines, result.Refused, result.Heuristic)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	return &exitError{code: 1}
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	if tailFormat != "text" && tailFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", tailFormat)
	}
	path, err := auditPath(args)
	if err != nil {
		return err
	}

	entries, size, err := audit.Tail(path, tailLines)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		printEntry(out, e)
	}

	if !tailFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return followLog(ctx, out, path, size)
}

func followLog(ctx context.Context, out io.Writer, path string, offset int64) error {
	err := audit.Follow(ctx, path, offset, func(e audit.Entry) { printEntry(out, e) })
	if errors.Is(err, audit.ErrLogRotated) {
		logger.Warn("audit log went away, stopping", "path", path)
		return nil
	}
	return err
}

func printEntry(w io.Writer, e audit.Entry) {
	if tailFormat == "json" {
		s, err := audit.FormatJSON(e)
		if err != nil {
			logger.Error("format audit entry", "error", err)
			return
		}
		fmt.Fprintln(w, s)
		return
	}
	fmt.Fprintln(w, audit.FormatEntry(e))
}
