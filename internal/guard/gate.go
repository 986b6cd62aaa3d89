// Package guard is the single entry point callers consult before a
// dangerous operation.
//
// Every call probes the OS afresh, so the verdict reflects the privilege
// state at the moment of the call. Nothing is cached between calls.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/rootguard/internal/audit"
	"github.com/ppiankov/rootguard/internal/capability"
	"github.com/ppiankov/rootguard/internal/model"
	"github.com/ppiankov/rootguard/internal/policy"
	"github.com/ppiankov/rootguard/internal/probe"
	"github.com/ppiankov/rootguard/internal/userns"
)

// Recorder persists audit entries. *audit.Log satisfies it.
type Recorder interface {
	Record(audit.Entry) error
}

// RefusedError is returned by Enforce and Run when the process is
// root-equivalent.
type RefusedError struct {
	Operation string
	Verdict   model.Verdict
}

func (e *RefusedError) Error() string {
	msg := fmt.Sprintf("refusing %s: process has root-equivalent privileges", e.Operation)
	if e.Verdict.Confidence == model.Heuristic {
		msg += "; privilege state could not be fully verified; refusing conservatively"
	}
	return msg
}

// Gate composes the probes, interpreters and policy into one decision.
// A Gate is safe for concurrent use.
type Gate struct {
	cfg        *policy.Config
	policyHash string
	prober     probe.Prober
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithProber replaces the live OS prober.
func WithProber(p probe.Prober) Option {
	return func(g *Gate) { g.prober = p }
}

// WithAuditLog records one entry per verdict.
func WithAuditLog(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithLogger sets the logger verdicts are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithPolicyHash tags audit entries with the hash of the loaded config.
func WithPolicyHash(hash string) Option {
	return func(g *Gate) { g.policyHash = hash }
}

// New builds a Gate. A nil cfg uses policy.DefaultConfig.
func New(cfg *policy.Config, opts ...Option) *Gate {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	g := &Gate{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.prober == nil {
		g.prober = probe.NewSystem(probe.Options{Timeout: cfg.ProbeTimeout})
	}
	return g
}

// Report is a verdict together with the observations behind it.
type Report struct {
	Operation       string                 `json:"operation"`
	Verdict         model.Verdict          `json:"verdict"`
	Identity        *probe.Identity        `json:"identity,omitempty"`
	IdentityErr     string                 `json:"identity_error,omitempty"`
	Mapping         probe.RawMapping       `json:"uid_map"`
	MappingErr      string                 `json:"uid_map_error,omitempty"`
	Namespace       userns.Context         `json:"namespace"`
	Capabilities    probe.RawCapabilities  `json:"capabilities"`
	CapabilitiesErr string                 `json:"capabilities_error,omitempty"`
	Analysis        capability.Analysis    `json:"capability_analysis"`
	Hints           probe.EnvironmentHints `json:"environment_hints"`
	PolicyHash      string                 `json:"policy_hash,omitempty"`
}

// Authorize decides whether the process is root-equivalent right now.
func (g *Gate) Authorize(operation string) model.Verdict {
	return g.Inspect(operation).Verdict
}

// Inspect runs the same pipeline as Authorize and returns the raw
// observations alongside the verdict.
func (g *Gate) Inspect(operation string) Report {
	r := g.observe(operation)
	g.report(r)
	return r
}

// Enforce returns a *RefusedError when the process is root-equivalent.
func (g *Gate) Enforce(operation string) (model.Verdict, error) {
	v := g.Authorize(operation)
	if v.Privileged {
		return v, &RefusedError{Operation: operation, Verdict: v}
	}
	return v, nil
}

// Run consults the gate immediately before calling fn and skips fn when
// refused.
func (g *Gate) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.Enforce(operation); err != nil {
		return err
	}
	return fn(ctx)
}

func (g *Gate) observe(operation string) Report {
	r := Report{Operation: operation, PolicyHash: g.policyHash}

	id, idErr := g.prober.Identity()
	if idErr != nil {
		r.IdentityErr = idErr.Error()
	} else {
		r.Identity = &id
	}

	raw, mapErr := g.prober.UIDMapping()
	r.Mapping = raw
	if mapErr != nil {
		r.MappingErr = mapErr.Error()
	}
	r.Namespace = userns.Resolve(raw, mapErr, id.EffectiveUID, idErr == nil)

	caps, capErr := g.prober.Capabilities()
	r.Capabilities = caps
	if capErr != nil {
		r.CapabilitiesErr = capErr.Error()
	}
	r.Analysis = capability.Analyze(caps.Text, capErr, g.cfg.DangerousCapabilities)

	r.Verdict = policy.Evaluate(policy.Input{
		Identity:     id,
		IdentityErr:  idErr,
		Namespace:    r.Namespace,
		Capabilities: r.Analysis,
	}, g.cfg)

	r.Hints = g.prober.Environment()
	return r
}

// report logs the verdict and appends it to the audit log. A failed
// audit write is logged and never changes the verdict.
func (g *Gate) report(r Report) {
	v := r.Verdict
	level := slog.LevelInfo
	if v.Privileged || v.Confidence == model.Heuristic {
		level = slog.LevelWarn
	}
	attrs := []any{
		"operation", r.Operation,
		"privileged", v.Privileged,
		"confidence", string(v.Confidence),
		"basis", v.BasisStrings(),
		"unknowns", v.UnknownStrings(),
	}
	if by := r.Hints.ElevatedBy(); by != "" {
		attrs = append(attrs, "elevated_by_hint", by)
	}
	g.logger.Log(context.Background(), level, "privilege check", attrs...)

	if g.recorder == nil {
		return
	}
	entry := audit.NewEntry(g.now(), r.Operation, v, r.Hints, g.policyHash)
	if err := g.recorder.Record(entry); err != nil {
		g.logger.Error("audit write failed", "operation", r.Operation, "error", err)
	}
}
