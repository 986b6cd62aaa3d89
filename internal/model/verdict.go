package model

import (
	"fmt"
	"strings"
)

// Confidence says how firmly a verdict is established.
type Confidence string

const (
	Definite  Confidence = "definite"
	Heuristic Confidence = "heuristic"
)

// SignalName identifies a probed privilege dimension.
type SignalName string

const (
	SignalIdentity     SignalName = "Identity"
	SignalUIDMapping   SignalName = "UidMapping"
	SignalCapabilities SignalName = "Capabilities"
)

// SignalKind names the policy rule that contributed to a verdict.
type SignalKind string

const (
	IdentityUnavailable                        SignalKind = "IdentityUnavailable"
	NamespaceRemappedRootTreatedAsPrivileged   SignalKind = "NamespaceRemappedRootTreatedAsPrivileged"
	NamespaceRemappedRootTreatedAsUnprivileged SignalKind = "NamespaceRemappedRootTreatedAsUnprivileged"
	EffectiveUIDZero                           SignalKind = "EffectiveUidZero"
	RecoverableRootUID                         SignalKind = "RecoverableRootUid"
	DangerousCapability                        SignalKind = "DangerousCapability"
	NoPrivilegeSignal                          SignalKind = "NoPrivilegeSignal"
)

// Known reports whether k is one of the defined kinds.
func (k SignalKind) Known() bool {
	switch k {
	case IdentityUnavailable, NamespaceRemappedRootTreatedAsPrivileged, NamespaceRemappedRootTreatedAsUnprivileged,
		EffectiveUIDZero, RecoverableRootUID, DangerousCapability, NoPrivilegeSignal:
		return true
	}
	return false
}

// Refuses reports whether a basis entry of kind k makes a verdict
// privileged. Only NoPrivilegeSignal and the unprivileged namespace
// outcome allow.
func (k SignalKind) Refuses() bool {
	return k != NoPrivilegeSignal && k != NamespaceRemappedRootTreatedAsUnprivileged
}

// Known reports whether n is one of the probed signals.
func (n SignalName) Known() bool {
	return n == SignalIdentity || n == SignalUIDMapping || n == SignalCapabilities
}

// Signal is one entry in a verdict's basis. Detail carries the argument of
// parameterized kinds, e.g. the capability name for DangerousCapability.
type Signal struct {
	Kind   SignalKind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

// String renders the signal as Kind or Kind(detail).
func (s Signal) String() string {
	if s.Detail == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Detail)
}

// NamespacePolicy decides how namespace-remapped root is treated.
type NamespacePolicy string

const (
	TreatAsPrivileged   NamespacePolicy = "treat_as_privileged"
	TreatAsUnprivileged NamespacePolicy = "treat_as_unprivileged"
)

// Valid reports whether p is a known policy value.
func (p NamespacePolicy) Valid() bool {
	return p == TreatAsPrivileged || p == TreatAsUnprivileged
}

// Verdict is the outcome of one privilege evaluation. It is built fresh
// for every guard call and must not be mutated after it is returned.
type Verdict struct {
	Privileged bool         `json:"is_privileged"`
	Basis      []Signal     `json:"basis"`
	Confidence Confidence   `json:"confidence"`
	Unknowns   []SignalName `json:"unknowns"`
}

// BasisStrings returns the basis as rendered strings, for logs.
func (v Verdict) BasisStrings() []string {
	out := make([]string, len(v.Basis))
	for i, s := range v.Basis {
		out[i] = s.String()
	}
	return out
}

// UnknownStrings returns the unresolved signal names as strings.
func (v Verdict) UnknownStrings() []string {
	out := make([]string, len(v.Unknowns))
	for i, u := range v.Unknowns {
		out[i] = string(u)
	}
	return out
}

// Summary is a one-line human rendering of the verdict.
func (v Verdict) Summary() string {
	state := "not privileged"
	if v.Privileged {
		state = "privileged"
	}
	line := fmt.Sprintf("%s (%s): %s", state, v.Confidence, strings.Join(v.BasisStrings(), ", "))
	if len(v.Unknowns) > 0 {
		line += fmt.Sprintf("; unverified: %s", strings.Join(v.UnknownStrings(), ", "))
	}
	return line
}
