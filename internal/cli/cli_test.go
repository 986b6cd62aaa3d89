package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/rootguard/internal/audit"
	"github.com/ppiankov/rootguard/internal/model"
	"github.com/ppiankov/rootguard/internal/probe"
)

var cleanCaps = probe.RawCapabilities{Source: "status", Text: "CapEff:\t0000000000000000"}

func staticUser(uid int) probe.Static {
	return probe.Static{
		ID:      probe.Identity{RealUID: uid, EffectiveUID: uid, SavedUID: uid, RealGID: uid, EffectiveGID: uid, SavedGID: uid},
		Mapping: probe.RawMapping{Present: false},
		Caps:    cleanCaps,
	}
}

// withEnv points the CLI at a fresh config and a fixed prober.
func withEnv(t *testing.T, p probe.Prober, configYAML string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	configPath = filepath.Join(dir, "config.yaml")
	if configYAML != "" {
		if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	prober = p
	t.Cleanup(func() {
		prober = nil
		configPath = ""
	})
	return dir
}

func testCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	return cmd, &out, &errOut
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected exitError, got %v", err)
	}
	return ee.code
}

func TestCheckUnprivileged(t *testing.T) {
	withEnv(t, staticUser(1000), "")
	checkOperation, checkFormat, checkExplain = "check", "text", false

	cmd, out, _ := testCmd()
	if code := exitCode(t, runCheck(cmd, nil)); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "not privileged") || !strings.Contains(out.String(), "NoPrivilegeSignal") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestCheckPrivilegedExits77(t *testing.T) {
	withEnv(t, staticUser(0), "")
	checkOperation, checkFormat, checkExplain = "check", "json", false

	cmd, out, _ := testCmd()
	if code := exitCode(t, runCheck(cmd, nil)); code != exitRefused {
		t.Fatalf("expected exit %d, got %d", exitRefused, code)
	}

	var v model.Verdict
	if err := json.Unmarshal(out.Bytes(), &v); err != nil {
		t.Fatalf("output is not a verdict: %v\n%s", err, out.String())
	}
	if !v.Privileged || v.Confidence != model.Definite {
		t.Errorf("unexpected verdict %+v", v)
	}
}

func TestCheckExplainShowsObservations(t *testing.T) {
	p := staticUser(0)
	p.Mapping = probe.RawMapping{Present: true, Text: "0 1000 1\n"}
	p.Env = probe.EnvironmentHints{"SUDO_USER": "alice"}
	withEnv(t, p, "namespace_policy: treat_as_unprivileged\n")
	checkOperation, checkFormat, checkExplain = "check", "text", true

	cmd, out, _ := testCmd()
	if code := exitCode(t, runCheck(cmd, nil)); code != 0 {
		t.Fatalf("expected exit 0 under treat_as_unprivileged, got %d", code)
	}
	for _, want := range []string{"NamespaceRemappedRootTreatedAsUnprivileged", "host uid 1000", "SUDO_USER=alice (not trusted)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestCheckInvalidConfigExits78(t *testing.T) {
	withEnv(t, staticUser(1000), "namespace_policy: maybe\n")
	checkOperation, checkFormat, checkExplain = "check", "text", false

	cmd, _, _ := testCmd()
	if code := exitCode(t, runCheck(cmd, nil)); code != exitConfig {
		t.Fatalf("expected exit %d, got %d", exitConfig, code)
	}
}

func TestCheckWritesAuditEntry(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	withEnv(t, staticUser(1000), "audit_log: "+logPath+"\n")
	checkOperation, checkFormat, checkExplain = "deploy", "text", false

	cmd, _, _ := testCmd()
	if err := runCheck(cmd, nil); err != nil {
		t.Fatal(err)
	}

	entries, _, err := audit.Tail(logPath, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Operation != "deploy" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestExecWithoutFlagSkipsGuard(t *testing.T) {
	// Root, but no unrestricted mode requested: runs normally.
	withEnv(t, staticUser(0), "")
	execSkipPermissions = false

	cmd, out, _ := testCmd()
	if err := runExec(cmd, []string{"sh", "-c", "echo ran"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "ran" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestExecSkipPermissionsRefusedUnderRoot(t *testing.T) {
	withEnv(t, staticUser(0), "")
	execSkipPermissions = true
	defer func() { execSkipPermissions = false }()

	cmd, out, errOut := testCmd()
	code := exitCode(t, runExec(cmd, []string{"sh", "-c", "echo ran"}))
	if code != exitRefused {
		t.Fatalf("expected exit %d, got %d", exitRefused, code)
	}
	if out.Len() != 0 {
		t.Fatalf("command must not run, got output %q", out.String())
	}
	if !strings.Contains(errOut.String(), "refusing dangerously-skip-permissions: process has root-equivalent privileges") {
		t.Errorf("unexpected refusal message %q", errOut.String())
	}
	if !strings.Contains(errOut.String(), "EffectiveUidZero") {
		t.Errorf("expected basis in refusal, got %q", errOut.String())
	}
}

func TestExecSkipPermissionsHeuristicRefusal(t *testing.T) {
	p := staticUser(1000)
	p.IDErr = &probe.Unavailable{Signal: model.SignalIdentity, Reason: "test"}
	withEnv(t, p, "")
	execSkipPermissions = true
	defer func() { execSkipPermissions = false }()

	cmd, _, errOut := testCmd()
	if code := exitCode(t, runExec(cmd, []string{"true"})); code != exitRefused {
		t.Fatalf("expected exit %d, got %d", exitRefused, code)
	}
	if !strings.Contains(errOut.String(), "could not be fully verified; refusing conservatively") {
		t.Errorf("heuristic refusal must be distinct: %q", errOut.String())
	}
}

func TestExecSkipPermissionsAllowedSetsEnv(t *testing.T) {
	withEnv(t, staticUser(1000), "")
	execSkipPermissions = true
	defer func() { execSkipPermissions = false }()

	cmd, out, _ := testCmd()
	if err := runExec(cmd, []string{"sh", "-c", "echo $" + skipPermissionsEnv}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1" {
		t.Errorf("expected %s=1 in child env, got %q", skipPermissionsEnv, out.String())
	}
}

func TestExecPropagatesExitCode(t *testing.T) {
	withEnv(t, staticUser(1000), "")
	execSkipPermissions = false

	cmd, _, _ := testCmd()
	if code := exitCode(t, runExec(cmd, []string{"sh", "-c", "exit 3"})); code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestExecWithoutFlagStripsInheritedGrant(t *testing.T) {
	withEnv(t, staticUser(0), "")
	t.Setenv(skipPermissionsEnv, "1")
	execSkipPermissions = false

	cmd, out, _ := testCmd()
	if err := runExec(cmd, []string{"sh", "-c", "echo grant=$" + skipPermissionsEnv}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "grant=" {
		t.Errorf("child inherited the grant without a guard check: %q", got)
	}
}

func TestExecChildExit77IsNotARefusal(t *testing.T) {
	withEnv(t, staticUser(1000), "")
	execSkipPermissions = true
	defer func() { execSkipPermissions = false }()

	cmd, _, errOut := testCmd()
	if code := exitCode(t, runExec(cmd, []string{"sh", "-c", "exit 77"})); code != 77 {
		t.Fatalf("expected child exit 77, got %d", code)
	}
	if strings.Contains(errOut.String(), refusalMarker) {
		t.Errorf("child exit must not carry the refusal marker: %q", errOut.String())
	}
}

func TestExecRefusalCarriesMarker(t *testing.T) {
	withEnv(t, staticUser(0), "")
	execSkipPermissions = true
	defer func() { execSkipPermissions = false }()

	cmd, _, errOut := testCmd()
	if code := exitCode(t, runExec(cmd, []string{"true"})); code != exitRefused {
		t.Fatalf("expected exit %d, got %d", exitRefused, code)
	}
	if !strings.HasPrefix(errOut.String(), refusalMarker+" ") {
		t.Errorf("expected refusal line to start with %q, got %q", refusalMarker, errOut.String())
	}
}

func TestExecHeuristicGrantReportedOnStderr(t *testing.T) {
	p := staticUser(1000)
	p.CapsErr = &probe.Unavailable{Signal: model.SignalCapabilities, Reason: "no procfs"}
	withEnv(t, p, "")

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--config", configPath, "exec", "--dangerously-skip-permissions", "--", "true"})
	t.Cleanup(func() {
		execSkipPermissions = false
		logger = slog.New(slog.DiscardHandler)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stderr := errOut.String()
	if stderr == "" {
		t.Fatal("a grant resting on unverified signals must not be silent")
	}
	for _, want := range []string{"granted dangerously-skip-permissions with unverified signals", "Capabilities"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("expected %q on stderr, got %q", want, stderr)
		}
	}
}

func TestAuditVerifyAndTail(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	withEnv(t, staticUser(0), "audit_log: "+logPath+"\n")
	checkOperation, checkFormat, checkExplain = "first", "text", false
	cmd, _, _ := testCmd()
	_ = runCheck(cmd, nil)
	checkOperation = "second"
	_ = runCheck(cmd, nil)

	cmd, out, _ := testCmd()
	if err := runAuditVerify(cmd, nil); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !strings.Contains(out.String(), "OK: 2 entries verified (2 refused, 0 heuristic)") {
		t.Errorf("unexpected verify output %q", out.String())
	}

	tailLines, tailFollow, tailFormat = 1, false, "text"
	cmd, out, _ = testCmd()
	if err := runAuditTail(cmd, []string{logPath}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "second") || !strings.Contains(lines[0], "REFUSE") {
		t.Errorf("unexpected tail output %q", out.String())
	}
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.jsonl")
	withEnv(t, staticUser(1000), "audit_log: "+logPath+"\n")
	checkOperation, checkFormat, checkExplain = "op", "text", false
	cmd, _, _ := testCmd()
	for i := 0; i < 2; i++ {
		if err := runCheck(cmd, nil); err != nil {
			t.Fatal(err)
		}
	}

	data, _ := os.ReadFile(logPath)
	tampered := strings.Replace(string(data), `"is_privileged":false`, `"is_privileged":true`, 1)
	if err := os.WriteFile(logPath, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, _, errOut := testCmd()
	if code := exitCode(t, runAuditVerify(cmd, []string{logPath})); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	// The flipped line contradicts its own basis.
	if !strings.Contains(errOut.String(), "FAILED at line 1") || !strings.Contains(errOut.String(), "is_privileged:true with allowing basis") {
		t.Errorf("unexpected verify output %q", errOut.String())
	}
}

func TestAuditPathRequiresConfig(t *testing.T) {
	withEnv(t, staticUser(1000), "")
	if _, err := auditPath(nil); exitCode(t, err) != exitConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestDoctorReportsProbes(t *testing.T) {
	p := staticUser(1000)
	p.CapsErr = &probe.Unavailable{Signal: model.SignalCapabilities, Reason: "no procfs"}
	withEnv(t, p, "recoverable_root: true\n")

	cmd, out, _ := testCmd()
	err := runDoctor(cmd, nil)
	if err == nil {
		t.Fatal("expected doctor to report the failed capability probe")
	}
	for _, want := range []string{
		"✓ config file:",
		"✓ identity:",
		"✓ uid_map:",
		"✗ capabilities:",
		"Capabilities unavailable: no procfs",
		"confidence:  heuristic",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in doctor output:\n%s", want, out.String())
		}
	}
}

func TestDoctorAllPassing(t *testing.T) {
	withEnv(t, staticUser(1000), "probe_timeout: 100ms\n")

	cmd, out, _ := testCmd()
	if err := runDoctor(cmd, nil); err != nil {
		t.Fatalf("unexpected doctor failure: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "All checks passed.") {
		t.Errorf("unexpected doctor output:\n%s", out.String())
	}
}

func TestDoctorReportsAuditTallies(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	withEnv(t, staticUser(0), "audit_log: "+logPath+"\n")
	checkOperation, checkFormat, checkExplain = "op", "text", false
	cmd, _, _ := testCmd()
	for i := 0; i < 2; i++ {
		_ = runCheck(cmd, nil)
	}

	prober = staticUser(1000)
	cmd, out, _ := testCmd()
	_ = runDoctor(cmd, nil)
	if !strings.Contains(out.String(), "2 entries, 2 refused, 0 heuristic, chain intact") {
		t.Errorf("expected audit tallies in doctor output:\n%s", out.String())
	}
}
