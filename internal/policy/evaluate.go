package policy

import (
	"github.com/ppiankov/rootguard/internal/capability"
	"github.com/ppiankov/rootguard/internal/model"
	"github.com/ppiankov/rootguard/internal/probe"
	"github.com/ppiankov/rootguard/internal/userns"
)

// Input is everything the policy may look at. Environment hints are
// deliberately not representable here.
type Input struct {
	Identity     probe.Identity
	IdentityErr  error
	Namespace    userns.Context
	Capabilities capability.Analysis
}

// Evaluate decides whether the process is root-equivalent.
//
// Evaluation order (must not be changed, first match wins):
//  1. Identity unavailable: privileged, heuristic
//  2. Effective UID 0 remapped by a user namespace: namespace policy
//  3. Effective UID 0: privileged, heuristic if the namespace is unknown
//  4. Real or saved UID 0: privileged (when RecoverableRoot)
//  5. Dangerous capability: privileged
//  6. Nothing fired: not privileged, heuristic if any signal is unknown
func Evaluate(in Input, cfg *Config) model.Verdict {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	unknowns := collectUnknowns(in)

	// Step 1: cannot verify absence of root
	if in.IdentityErr != nil {
		return model.Verdict{
			Privileged: true,
			Basis:      []model.Signal{{Kind: model.IdentityUnavailable}},
			Confidence: model.Heuristic,
			Unknowns:   unknowns,
		}
	}

	id := in.Identity
	if id.EffectiveUID == 0 {
		// Step 2: namespace root
		if in.Namespace.State == userns.Known && in.Namespace.RemappedRoot {
			v := model.Verdict{Confidence: model.Definite, Unknowns: unknowns}
			if cfg.NamespacePolicy == model.TreatAsUnprivileged {
				v.Basis = []model.Signal{{Kind: model.NamespaceRemappedRootTreatedAsUnprivileged}}
			} else {
				v.Privileged = true
				v.Basis = []model.Signal{{Kind: model.NamespaceRemappedRootTreatedAsPrivileged}}
			}
			return v
		}

		// Step 3: host root, or root we cannot prove is remapped
		confidence := model.Definite
		if in.Namespace.State == userns.Unknown {
			confidence = model.Heuristic
		}
		return model.Verdict{
			Privileged: true,
			Basis:      []model.Signal{{Kind: model.EffectiveUIDZero}},
			Confidence: confidence,
			Unknowns:   unknowns,
		}
	}

	// Step 4: root parked in the real or saved UID
	if cfg.RecoverableRoot && id.CanRegainRoot() {
		return model.Verdict{
			Privileged: true,
			Basis:      []model.Signal{{Kind: model.RecoverableRootUID}},
			Confidence: model.Definite,
			Unknowns:   unknowns,
		}
	}

	// Step 5: capability-only escalation
	if in.Capabilities.Known && in.Capabilities.HasDangerous {
		basis := make([]model.Signal, 0, len(in.Capabilities.Matched))
		for _, name := range in.Capabilities.Matched {
			basis = append(basis, model.Signal{Kind: model.DangerousCapability, Detail: name})
		}
		return model.Verdict{
			Privileged: true,
			Basis:      basis,
			Confidence: model.Definite,
			Unknowns:   unknowns,
		}
	}

	// Step 6: the only fail-open path
	confidence := model.Definite
	if len(unknowns) > 0 {
		confidence = model.Heuristic
	}
	return model.Verdict{
		Privileged: false,
		Basis:      []model.Signal{{Kind: model.NoPrivilegeSignal}},
		Confidence: confidence,
		Unknowns:   unknowns,
	}
}

func collectUnknowns(in Input) []model.SignalName {
	unknowns := []model.SignalName{}
	if in.IdentityErr != nil {
		unknowns = append(unknowns, model.SignalIdentity)
	}
	if in.Namespace.State == userns.Unknown {
		unknowns = append(unknowns, model.SignalUIDMapping)
	}
	if !in.Capabilities.Known {
		unknowns = append(unknowns, model.SignalCapabilities)
	}
	return unknowns
}
