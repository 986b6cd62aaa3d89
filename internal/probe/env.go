package probe

// EnvironmentHints are informational key/value pairs from the process
// environment. They are trivially spoofable and are recorded for audit
// only; nothing in the decision path accepts them.
type EnvironmentHints map[string]string

// hintKeys are the variables set by common elevation tools and login
// shells.
var hintKeys = []string{
	"SUDO_USER",
	"SUDO_UID",
	"SUDO_GID",
	"SUDO_COMMAND",
	"DOAS_USER",
	"PKEXEC_UID",
	"USER",
	"LOGNAME",
}

// ElevatedBy returns the elevation tool the hints suggest, or "".
func (h EnvironmentHints) ElevatedBy() string {
	switch {
	case h["SUDO_USER"] != "" || h["SUDO_UID"] != "":
		return "sudo"
	case h["DOAS_USER"] != "":
		return "doas"
	case h["PKEXEC_UID"] != "":
		return "pkexec"
	}
	return ""
}

func environment(lookup func(string) (string, bool)) EnvironmentHints {
	hints := EnvironmentHints{}
	for _, k := range hintKeys {
		if v, ok := lookup(k); ok {
			hints[k] = v
		}
	}
	return hints
}
