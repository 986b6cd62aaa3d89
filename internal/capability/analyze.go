// Package capability matches the process's effective capability set
// against a configured list of dangerous capabilities.
//
// Matching is a case-insensitive substring search over the expanded
// capability text. It errs toward over-matching: a false "dangerous" only
// refuses an operation, a missed one lets it run as root-equivalent.
package capability

import (
	"bufio"
	"strings"
)

// DefaultDangerous covers administrative override, file-permission
// override and identity change.
var DefaultDangerous = []string{
	"cap_sys_admin",
	"cap_dac_override",
	"cap_dac_read_search",
	"cap_fowner",
	"cap_setuid",
	"cap_setgid",
}

// Analysis is the interpreted capability state for one check.
type Analysis struct {
	// Known is false when the capability probe was unavailable.
	Known        bool     `json:"known"`
	HasDangerous bool     `json:"has_dangerous"`
	Matched      []string `json:"matched,omitempty"`
	// Effective lists names decoded from a CapEff mask, if one was present.
	Effective []string `json:"effective,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Normalize lowercases a capability name and adds the cap_ prefix, so
// "SYS_ADMIN" and "cap_sys_admin" configure the same thing.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	if !strings.HasPrefix(n, "cap_") {
		n = "cap_" + n
	}
	return n
}

// Expand lowercases raw and appends the names decoded from its CapEff hex
// mask line. It returns the expanded text and the decoded names. Other
// Cap* lines (bounding, permitted) are kept verbatim but not decoded:
// only the effective set is in force.
func Expand(raw string) (string, []string) {
	lower := strings.ToLower(raw)
	var decoded []string

	sc := bufio.NewScanner(strings.NewReader(lower))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		hex, ok := strings.CutPrefix(line, "capeff:")
		if !ok {
			continue
		}
		mask, err := ParseMask(hex)
		if err != nil {
			continue
		}
		decoded = append(decoded, DecodeMask(mask)...)
	}

	if len(decoded) == 0 {
		return lower, nil
	}
	return lower + "\n" + strings.Join(decoded, ","), decoded
}

// Analyze matches dangerous against the raw capability text. rawErr is
// the probe error; when set the result is unknown, never "no capabilities".
// Matched keeps the configured order without duplicates.
func Analyze(raw string, rawErr error, dangerous []string) Analysis {
	if rawErr != nil {
		return Analysis{Known: false, Reason: rawErr.Error()}
	}

	text, decoded := Expand(raw)
	a := Analysis{Known: true, Effective: decoded}

	seen := make(map[string]bool, len(dangerous))
	for _, d := range dangerous {
		name := Normalize(d)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if strings.Contains(text, name) {
			a.Matched = append(a.Matched, name)
		}
	}
	a.HasDangerous = len(a.Matched) > 0
	return a
}
