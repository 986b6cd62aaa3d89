// Package probe reads the OS-level privilege state of the current process.
//
// Each probe inspects one dimension (identity, user-namespace mapping,
// effective capabilities) and returns either a raw observation or an
// *Unavailable error. A probe never reports "not privileged" on its own:
// interpretation is left to the userns, capability and policy packages.
//
// Probes are read-only: single size-capped reads of pseudo-filesystem
// entries and at most one capget(2) call, each bounded by a timeout.
package probe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/rootguard/internal/model"
)

const (
	// DefaultProcRoot is where procfs is expected to be mounted.
	DefaultProcRoot = "/proc"

	// DefaultTimeout bounds every individual probe.
	DefaultTimeout = 250 * time.Millisecond

	// maxRead caps pseudo-file reads. uid_map has at most 340 lines and
	// /proc/self/status is a few KiB.
	maxRead = 64 << 10
)

// Identity is a snapshot of the process user and group IDs.
// SavedUID and SavedGID are -1 on platforms that do not expose them.
type Identity struct {
	RealUID      int `json:"ruid"`
	EffectiveUID int `json:"euid"`
	SavedUID     int `json:"suid"`
	RealGID      int `json:"rgid"`
	EffectiveGID int `json:"egid"`
	SavedGID     int `json:"sgid"`
}

// CanRegainRoot reports whether a non-root effective UID sits on top of a
// real or saved UID 0, i.e. the process dropped root with seteuid and can
// take it back.
func (id Identity) CanRegainRoot() bool {
	return id.EffectiveUID != 0 && (id.RealUID == 0 || id.SavedUID == 0)
}

// RawMapping is the unparsed uid_map text. Present is false when the
// mapping source does not exist at all (kernel without user namespaces).
type RawMapping struct {
	Present bool   `json:"present"`
	Text    string `json:"text,omitempty"`
}

// RawCapabilities is the unparsed effective capability description and
// where it came from.
type RawCapabilities struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Unavailable is returned by a probe that could not observe its signal.
// It is never equivalent to a negative observation.
type Unavailable struct {
	Signal model.SignalName
	Reason string
	Err    error
}

func (u *Unavailable) Error() string {
	if u.Err != nil {
		return fmt.Sprintf("%s unavailable: %s: %v", u.Signal, u.Reason, u.Err)
	}
	return fmt.Sprintf("%s unavailable: %s", u.Signal, u.Reason)
}

func (u *Unavailable) Unwrap() error { return u.Err }

// Prober is the set of privilege probes the guard consults.
type Prober interface {
	Identity() (Identity, error)
	UIDMapping() (RawMapping, error)
	Capabilities() (RawCapabilities, error)
	Environment() EnvironmentHints
}

// Options configures the system prober.
type Options struct {
	ProcRoot string
	Timeout  time.Duration
}

// System probes the running OS.
type System struct {
	procRoot string
	timeout  time.Duration

	ids    func() (Identity, error)
	capget func() (string, error)
	lookup func(string) (string, bool)
}

// NewSystem returns a prober backed by the live OS. Zero options fall
// back to DefaultProcRoot and DefaultTimeout.
func NewSystem(opts Options) *System {
	if opts.ProcRoot == "" {
		opts.ProcRoot = DefaultProcRoot
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &System{
		procRoot: opts.ProcRoot,
		timeout:  opts.Timeout,
		ids:      systemIdentity,
		capget:   systemCapget,
		lookup:   os.LookupEnv,
	}
}

// Identity reads real, effective and saved IDs.
func (s *System) Identity() (Identity, error) {
	return bounded(s.timeout, model.SignalIdentity, s.ids)
}

// UIDMapping reads the raw user-namespace UID mapping.
func (s *System) UIDMapping() (RawMapping, error) {
	return bounded(s.timeout, model.SignalUIDMapping, s.uidMapping)
}

// Capabilities reads the effective capability set description.
func (s *System) Capabilities() (RawCapabilities, error) {
	return bounded(s.timeout, model.SignalCapabilities, s.capabilities)
}

// Environment snapshots the informational environment hints.
func (s *System) Environment() EnvironmentHints {
	return environment(s.lookup)
}

// bounded runs fn with a deadline. Timeouts, panics and foreign errors are
// all converted to *Unavailable for sig.
func bounded[T any](timeout time.Duration, sig model.SignalName, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &Unavailable{Signal: sig, Reason: fmt.Sprintf("probe panicked: %v", r)}}
			}
		}()
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		if r.err == nil {
			return r.v, nil
		}
		var u *Unavailable
		if errors.As(r.err, &u) {
			return zero, u
		}
		return zero, &Unavailable{Signal: sig, Reason: "probe failed", Err: r.err}
	case <-timer.C:
		return zero, &Unavailable{Signal: sig, Reason: fmt.Sprintf("timed out after %s", timeout)}
	}
}

// readCapped reads at most maxRead bytes from path in a single open.
func readCapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxRead+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRead {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxRead)
	}
	return data, nil
}
