package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rootguard/internal/model"
	"github.com/ppiankov/rootguard/internal/probe"
	"github.com/ppiankov/rootguard/internal/userns"
)

// defaultOperation is recorded when the caller names none.
const defaultOperation = "mcp"

// --- Input/Output types ---

// AuthorizeInput defines parameters for the rootguard_authorize tool.
type AuthorizeInput struct {
	Operation string `json:"operation,omitempty" jsonschema:"name of the operation about to run (e.g. dangerously-skip-permissions)"`
}

// AuthorizeOutput carries the verdict.
type AuthorizeOutput struct {
	Operation    string   `json:"operation"`
	IsPrivileged bool     `json:"is_privileged"`
	Confidence   string   `json:"confidence"`
	Basis        []string `json:"basis"`
	Unknowns     []string `json:"unknowns"`
	Message      string   `json:"message,omitempty"`
}

// InspectInput defines parameters for the rootguard_inspect tool.
type InspectInput struct{}

// InspectOutput is the verdict plus the observations behind it.
type InspectOutput struct {
	Verdict          AuthorizeOutput `json:"verdict"`
	Identity         *probe.Identity `json:"identity,omitempty"`
	IdentityError    string          `json:"identity_error,omitempty"`
	NamespaceState   userns.State    `json:"namespace_state"`
	RemappedRoot     bool            `json:"remapped_root"`
	HostRootUID      *uint32         `json:"host_root_uid,omitempty"`
	CapabilityError  string          `json:"capability_error,omitempty"`
	DangerousMatched []string        `json:"dangerous_matched,omitempty"`
	ElevatedByHint   string          `json:"elevated_by_hint,omitempty"`
}

func (s *Server) handleAuthorize(ctx context.Context, req *mcpsdk.CallToolRequest, input AuthorizeInput) (*mcpsdk.CallToolResult, AuthorizeOutput, error) {
	op := input.Operation
	if op == "" {
		op = defaultOperation
	}

	v, err := s.gate.Enforce(op)
	out := authorizeOutput(op, v)
	if err != nil {
		out.Message = err.Error()
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleInspect(ctx context.Context, req *mcpsdk.CallToolRequest, input InspectInput) (*mcpsdk.CallToolResult, InspectOutput, error) {
	r := s.gate.Inspect("inspect")
	return nil, InspectOutput{
		Verdict:          authorizeOutput(r.Operation, r.Verdict),
		Identity:         r.Identity,
		IdentityError:    r.IdentityErr,
		NamespaceState:   r.Namespace.State,
		RemappedRoot:     r.Namespace.RemappedRoot,
		HostRootUID:      r.Namespace.HostRootUID,
		CapabilityError:  r.CapabilitiesErr,
		DangerousMatched: r.Analysis.Matched,
		ElevatedByHint:   r.Hints.ElevatedBy(),
	}, nil
}

func authorizeOutput(op string, v model.Verdict) AuthorizeOutput {
	return AuthorizeOutput{
		Operation:    op,
		IsPrivileged: v.Privileged,
		Confidence:   string(v.Confidence),
		Basis:        v.BasisStrings(),
		Unknowns:     v.UnknownStrings(),
	}
}
