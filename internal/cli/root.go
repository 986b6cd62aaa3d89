package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/audit"
	"github.com/ppiankov/rootguard/internal/guard"
	"github.com/ppiankov/rootguard/internal/logging"
	"github.com/ppiankov/rootguard/internal/policy"
	"github.com/ppiankov/rootguard/internal/probe"
)

// Exit codes shared by every command.
const (
	exitRefused = 77 // EX_NOPERM
	exitConfig  = 78 // EX_CONFIG
)

var (
	configPath string
	logFile    string
	logLevel   string
	logFormat  string
)

// prober replaces the live OS probes when non-nil.
var prober probe.Prober

// logger is built in PersistentPreRunE from the log flags.
var (
	logger    = slog.New(slog.DiscardHandler)
	logCloser io.Closer
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.rootguard/config.yaml)")
	pf.StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
	pf.StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text|json)")
}

var rootCmd = &cobra.Command{
	Use:   "rootguard",
	Short: "Refuse dangerous operations when running with root-equivalent privileges",
	Long: "Decides from OS-level signals (effective identity, user-namespace mapping,\n" +
		"effective capabilities) whether the current process is root-equivalent.\n" +
		"Environment variables are recorded but never trusted.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, closer, err := logging.New(logging.Options{
			Format: logFormat,
			Level:  logLevel,
			File:   logFile,
			Output: cmd.ErrOrStderr(),
		})
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		logger, logCloser = l, closer
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// exitError carries a process exit code out of a RunE. A nil err means
// the command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// runtimeEnv is what a command needs to consult the guard.
type runtimeEnv struct {
	cfg        *policy.Config
	policyHash string
	gate       *guard.Gate
	auditLog   *audit.Log
}

func (r *runtimeEnv) Close() {
	if r.auditLog != nil {
		if err := r.auditLog.Close(); err != nil {
			logger.Error("close audit log", "error", err)
		}
	}
}

// loadRuntime loads the config and builds a gate. Config errors map to
// exit code 78.
func loadRuntime() (*runtimeEnv, error) {
	cfg, hash, err := policy.LoadConfigWithHash(configPath)
	if err != nil {
		return nil, &exitError{code: exitConfig, err: err}
	}

	env := &runtimeEnv{cfg: cfg, policyHash: hash}
	opts := []guard.Option{guard.WithLogger(logger), guard.WithPolicyHash(hash)}
	if prober != nil {
		opts = append(opts, guard.WithProber(prober))
	}
	if cfg.AuditLog != "" {
		al, err := audit.Open(cfg.AuditLog)
		if err != nil {
			return nil, &exitError{code: exitConfig, err: fmt.Errorf("open audit log: %w", err)}
		}
		env.auditLog = al
		opts = append(opts, guard.WithAuditLog(al))
	}
	env.gate = guard.New(cfg, opts...)
	return env, nil
}
