package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/audit"
	"github.com/ppiankov/rootguard/internal/guard"
	"github.com/ppiankov/rootguard/internal/policy"
	"github.com/ppiankov/rootguard/internal/userns"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that every privilege signal can be observed",
	Long: "Runs each probe and reports what it saw. A probe that cannot observe\n" +
		"its signal forces heuristic verdicts; doctor shows which and why.",
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "rootguard binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "rootguard binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config file.
	path := configPath
	if path == "" {
		path = policy.ResolvePath()
	}
	if _, err := os.Stat(path); err == nil {
		checks = append(checks, checkResult{label: "config file", ok: true, detail: path})
	} else {
		checks = append(checks, checkResult{
			label:  "config file",
			ok:     false,
			detail: "missing, using built-in defaults",
			fix:    "rootguard init",
		})
	}

	// 3. Config contents. Probing continues on defaults if invalid.
	cfg, err := policy.LoadConfig(configPath)
	if err != nil {
		checks = append(checks, checkResult{label: "config valid", ok: false, detail: err.Error()})
		cfg = policy.DefaultConfig()
	} else {
		checks = append(checks, checkResult{
			label: "config valid",
			ok:    true,
			detail: fmt.Sprintf("namespace_policy=%s, %d dangerous capabilities, timeout %s",
				cfg.NamespacePolicy, len(cfg.DangerousCapabilities), cfg.ProbeTimeout),
		})
	}

	opts := []guard.Option{guard.WithLogger(logger)}
	if prober != nil {
		opts = append(opts, guard.WithProber(prober))
	}
	report := guard.New(cfg, opts...).Inspect("doctor")

	// 4-6. One line per probe.
	checks = append(checks, probeChecks(report)...)

	// 7. Audit log chain.
	switch {
	case cfg.AuditLog == "":
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: "disabled"})
	default:
		if _, err := os.Stat(cfg.AuditLog); os.IsNotExist(err) {
			checks = append(checks, checkResult{label: "audit log", ok: true, detail: cfg.AuditLog + " (not yet written)"})
			break
		}
		res := audit.Verify(cfg.AuditLog)
		if res.Valid {
			checks = append(checks, checkResult{
				label:  "audit log",
				ok:     true,
				detail: fmt.Sprintf("%s (%d entries, %d refused, %d heuristic, chain intact)",
					cfg.AuditLog, res.Lines, res.Refused, res.Heuristic),
			})
		} else {
			checks = append(checks, checkResult{
				label:  "audit log",
				ok:     false,
				detail: fmt.Sprintf("chain broken at line %d: %s", res.ErrorLine, res.Error),
			})
		}
	}

	out := cmd.OutOrStdout()
	hasFailures := printChecks(out, checks)

	fmt.Fprintln(out)
	printVerdict(out, report.Verdict)
	if by := report.Hints.ElevatedBy(); by != "" {
		fmt.Fprintf(out, "env hints:   suggest %s (not trusted)\n", by)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed. Verdicts will be heuristic until they pass.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

func probeChecks(r guard.Report) []checkResult {
	var checks []checkResult

	if r.Identity != nil {
		id := r.Identity
		checks = append(checks, checkResult{
			label:  "identity",
			ok:     true,
			detail: fmt.Sprintf("uid %d/%d/%d (real/effective/saved)", id.RealUID, id.EffectiveUID, id.SavedUID),
		})
	} else {
		checks = append(checks, checkResult{label: "identity", ok: false, detail: r.IdentityErr})
	}

	switch {
	case r.MappingErr != "":
		checks = append(checks, checkResult{label: "uid_map", ok: false, detail: r.MappingErr, fix: "mount /proc"})
	case !r.Mapping.Present:
		checks = append(checks, checkResult{label: "uid_map", ok: true, detail: "not exposed (no user namespaces)"})
	case r.Namespace.State != userns.Known:
		checks = append(checks, checkResult{label: "uid_map", ok: false, detail: r.Namespace.Reason})
	default:
		detail := fmt.Sprintf("%d range(s)", len(r.Namespace.Mappings))
		if r.Namespace.HostRootUID != nil {
			detail += fmt.Sprintf(", uid 0 -> host %d", *r.Namespace.HostRootUID)
		}
		checks = append(checks, checkResult{label: "uid_map", ok: true, detail: detail})
	}

	if r.Analysis.Known {
		detail := "via " + r.Capabilities.Source
		if len(r.Analysis.Matched) > 0 {
			detail += fmt.Sprintf(", %d dangerous held", len(r.Analysis.Matched))
		}
		checks = append(checks, checkResult{label: "capabilities", ok: true, detail: detail})
	} else {
		checks = append(checks, checkResult{label: "capabilities", ok: false, detail: r.CapabilitiesErr})
	}
	return checks
}

// printChecks prints one line per check and reports whether any failed.
func printChecks(w io.Writer, checks []checkResult) bool {
	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(w, line)
	}
	return hasFailures
}
