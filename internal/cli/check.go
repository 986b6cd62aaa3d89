package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/guard"
	"github.com/ppiankov/rootguard/internal/model"
)

var (
	checkOperation string
	checkFormat    string
	checkExplain   bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkOperation, "operation", "check", "Operation name recorded with the verdict")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.Flags().BoolVar(&checkExplain, "explain", false, "Include the raw observations behind the verdict")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether the current process is root-equivalent",
	Long: "Probes identity, user-namespace mapping and effective capabilities,\n" +
		"applies the configured policy and prints the verdict.\n\n" +
		"Exit code 0 if not privileged, 77 if privileged.\n" +
		"Use in scripts to gate steps that must not run as root.",
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", checkFormat)
	}
	env, err := loadRuntime()
	if err != nil {
		return err
	}
	defer env.Close()

	report := env.gate.Inspect(checkOperation)
	out := cmd.OutOrStdout()

	switch checkFormat {
	case "json":
		var v any = report.Verdict
		if checkExplain {
			v = report
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		printVerdict(out, report.Verdict)
		if checkExplain {
			fmt.Fprintln(out)
			printObservations(out, report)
		}
	}

	if report.Verdict.Privileged {
		return &exitError{code: exitRefused}
	}
	return nil
}

func printVerdict(w io.Writer, v model.Verdict) {
	state := "not privileged"
	if v.Privileged {
		state = "PRIVILEGED"
	}
	fmt.Fprintf(w, "privileged:  %s\n", state)
	fmt.Fprintf(w, "confidence:  %s\n", v.Confidence)
	fmt.Fprintf(w, "basis:       %s\n", strings.Join(v.BasisStrings(), ", "))
	if len(v.Unknowns) > 0 {
		fmt.Fprintf(w, "unverified:  %s\n", strings.Join(v.UnknownStrings(), ", "))
	}
}

func printObservations(w io.Writer, r guard.Report) {
	if r.Identity != nil {
		id := r.Identity
		fmt.Fprintf(w, "identity:    uid=%d/%d/%d gid=%d/%d/%d (real/effective/saved)\n",
			id.RealUID, id.EffectiveUID, id.SavedUID, id.RealGID, id.EffectiveGID, id.SavedGID)
	} else {
		fmt.Fprintf(w, "identity:    %s\n", r.IdentityErr)
	}

	ns := r.Namespace
	switch {
	case r.MappingErr != "":
		fmt.Fprintf(w, "namespace:   %s (%s)\n", ns.State, r.MappingErr)
	case ns.HostRootUID != nil:
		fmt.Fprintf(w, "namespace:   %s, uid 0 maps to host uid %d, remapped root: %t\n",
			ns.State, *ns.HostRootUID, ns.RemappedRoot)
	default:
		fmt.Fprintf(w, "namespace:   %s %s\n", ns.State, ns.Reason)
	}

	a := r.Analysis
	if a.Known {
		fmt.Fprintf(w, "caps source: %s\n", r.Capabilities.Source)
		if len(a.Effective) > 0 {
			fmt.Fprintf(w, "effective:   %s\n", strings.Join(a.Effective, ", "))
		}
		matched := "none"
		if len(a.Matched) > 0 {
			matched = strings.Join(a.Matched, ", ")
		}
		fmt.Fprintf(w, "dangerous:   %s\n", matched)
	} else {
		fmt.Fprintf(w, "caps:        %s\n", r.CapabilitiesErr)
	}

	if len(r.Hints) > 0 {
		keys := make([]string, 0, len(r.Hints))
		for k, v := range r.Hints {
			keys = append(keys, k+"="+v)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "env hints:   %s (not trusted)\n", strings.Join(keys, " "))
	}
}
