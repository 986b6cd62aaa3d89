package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/guard"
	"github.com/ppiankov/rootguard/internal/model"
)

// skipPermissionsOperation names the unrestricted mode in verdicts and
// audit entries.
const skipPermissionsOperation = "dangerously-skip-permissions"

// skipPermissionsEnv tells the child that unrestricted mode was granted.
const skipPermissionsEnv = "ROOTGUARD_SKIP_PERMISSIONS"

var execSkipPermissions bool

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().BoolVar(&execSkipPermissions, "dangerously-skip-permissions", false,
		"Run the command in unrestricted mode; refused when the process is root-equivalent")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command> [args...]",
	Short: "Run a command, refusing unrestricted mode under root",
	Long: "Runs the command with stdio passed through. " + skipPermissionsEnv + " is\n" +
		"always stripped from the inherited environment.\n\n" +
		"With --dangerously-skip-permissions the guard is consulted immediately\n" +
		"before the command starts. If the process is root-equivalent the command\n" +
		"is not executed and rootguard exits 77 after printing a line starting\n" +
		"with \"" + refusalMarker + "\" to stderr. Otherwise the command runs with\n" +
		skipPermissionsEnv + "=1 in its environment, and a grant resting on\n" +
		"unverified signals is reported on stderr.\n\n" +
		"The child's exit code is passed through, so a child exiting 77 is told\n" +
		"apart from a refusal only by the missing marker line.",
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

// refusalMarker prefixes the refusal line on stderr.
const refusalMarker = "rootguard: refusing"

func runExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stdio := childIO{in: cmd.InOrStdin(), out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}

	if !execSkipPermissions {
		return runChild(ctx, args, false, stdio)
	}

	env, err := loadRuntime()
	if err != nil {
		return err
	}
	defer env.Close()

	v, err := env.gate.Enforce(skipPermissionsOperation)
	var refused *guard.RefusedError
	if errors.As(err, &refused) {
		printRefusal(stdio.err, refused)
		return &exitError{code: exitRefused}
	}
	if err != nil {
		return err
	}
	if v.Confidence == model.Heuristic {
		fmt.Fprintf(stdio.err, "rootguard: granted %s with unverified signals: %s\n",
			skipPermissionsOperation, strings.Join(v.UnknownStrings(), ", "))
	}
	return runChild(ctx, args, true, stdio)
}

type childIO struct {
	in       io.Reader
	out, err io.Writer
}

// childEnv is the parent environment without any inherited grant. The
// grant is added only when the guard allowed it in this process.
func childEnv(granted bool) []string {
	prefix := skipPermissionsEnv + "="
	var env []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			env = append(env, kv)
		}
	}
	if granted {
		env = append(env, prefix+"1")
	}
	return env
}

// runChild executes args and maps a non-zero child exit to the same
// rootguard exit code.
func runChild(ctx context.Context, args []string, granted bool, stdio childIO) error {
	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Stdin = stdio.in
	c.Stdout = stdio.out
	c.Stderr = stdio.err
	c.Env = childEnv(granted)

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1 // killed by a signal
		}
		return &exitError{code: code}
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	return nil
}

func printRefusal(w io.Writer, e *guard.RefusedError) {
	fmt.Fprintln(w, "rootguard: "+e.Error())
	fmt.Fprintf(w, "  basis:      %s\n", strings.Join(e.Verdict.BasisStrings(), ", "))
	fmt.Fprintf(w, "  confidence: %s\n", e.Verdict.Confidence)
	if len(e.Verdict.Unknowns) > 0 {
		fmt.Fprintf(w, "  unverified: %s\n", strings.Join(e.Verdict.UnknownStrings(), ", "))
	}
}
