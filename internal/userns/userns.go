// Package userns interprets the user-namespace UID mapping to tell
// genuine host root apart from root that is remapped to an unprivileged
// host UID.
package userns

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/rootguard/internal/probe"
)

// State classifies how much is known about the namespace mapping.
type State string

const (
	// Known: the mapping was read and parsed.
	Known State = "known"
	// Absent: the kernel exposes no mapping, so no remapping is possible.
	Absent State = "absent"
	// Unknown: the mapping could not be read or parsed.
	Unknown State = "unknown"
)

// Mapping is one uid_map line.
type Mapping struct {
	NamespaceStart uint32 `json:"ns_start"`
	HostStart      uint32 `json:"host_start"`
	Length         uint32 `json:"length"`
}

// Contains reports whether namespace UID uid falls inside the range.
func (m Mapping) Contains(uid uint32) bool {
	return uid >= m.NamespaceStart && uint64(uid) < uint64(m.NamespaceStart)+uint64(m.Length)
}

// HostID translates a namespace UID covered by m to its host UID.
func (m Mapping) HostID(uid uint32) uint32 {
	return m.HostStart + (uid - m.NamespaceStart)
}

// Context is the interpreted namespace state for one check.
type Context struct {
	State        State     `json:"state"`
	Mappings     []Mapping `json:"mappings,omitempty"`
	RemappedRoot bool      `json:"remapped_root"`
	// HostRootUID is the host UID namespace UID 0 maps to, when covered.
	HostRootUID *uint32 `json:"host_root_uid,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Parse parses uid_map text. Each non-empty line must hold three unsigned
// integers with a non-zero length.
func Parse(text string) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(strings.NewReader(text))
	lineNum := 0
	for sc.Scan() {
		lineNum++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNum, len(fields))
		}
		var vals [3]uint32
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %d: %w", lineNum, i+1, err)
			}
			vals[i] = uint32(v)
		}
		if vals[2] == 0 {
			return nil, fmt.Errorf("line %d: zero-length range", lineNum)
		}
		out = append(out, Mapping{NamespaceStart: vals[0], HostStart: vals[1], Length: vals[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan uid_map: %w", err)
	}
	return out, nil
}

// RootEntry returns the first mapping whose namespace range contains UID 0.
func RootEntry(mappings []Mapping) (Mapping, bool) {
	for _, m := range mappings {
		if m.Contains(0) {
			return m, true
		}
	}
	return Mapping{}, false
}

// Resolve turns a raw mapping probe into a Context. rawErr is the probe
// error, if any. euid is the observed effective UID and only matters when
// euidKnown is true: a process is remapped root only if it is UID 0 inside
// its namespace and that UID maps to a non-zero host UID.
func Resolve(raw probe.RawMapping, rawErr error, euid int, euidKnown bool) Context {
	if rawErr != nil {
		return Context{State: Unknown, Reason: rawErr.Error()}
	}
	if !raw.Present {
		return Context{State: Absent, Reason: "no uid_map exposed"}
	}

	mappings, err := Parse(raw.Text)
	if err != nil {
		return Context{State: Unknown, Reason: fmt.Sprintf("malformed uid_map: %v", err)}
	}

	ctx := Context{State: Known, Mappings: mappings}
	entry, ok := RootEntry(mappings)
	if !ok {
		return ctx
	}
	host := entry.HostID(0)
	ctx.HostRootUID = &host
	ctx.RemappedRoot = euidKnown && euid == 0 && host != 0
	return ctx
}
