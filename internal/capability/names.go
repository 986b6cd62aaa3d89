package capability

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// names follows the bit numbering of linux/capability.h.
var names = [...]string{
	"cap_chown",
	"cap_dac_override",
	"cap_dac_read_search",
	"cap_fowner",
	"cap_fsetid",
	"cap_kill",
	"cap_setgid",
	"cap_setuid",
	"cap_setpcap",
	"cap_linux_immutable",
	"cap_net_bind_service",
	"cap_net_broadcast",
	"cap_net_admin",
	"cap_net_raw",
	"cap_ipc_lock",
	"cap_ipc_owner",
	"cap_sys_module",
	"cap_sys_rawio",
	"cap_sys_chroot",
	"cap_sys_ptrace",
	"cap_sys_pacct",
	"cap_sys_admin",
	"cap_sys_boot",
	"cap_sys_nice",
	"cap_sys_resource",
	"cap_sys_time",
	"cap_sys_tty_config",
	"cap_mknod",
	"cap_lease",
	"cap_audit_write",
	"cap_audit_control",
	"cap_setfcap",
	"cap_mac_override",
	"cap_mac_admin",
	"cap_syslog",
	"cap_wake_alarm",
	"cap_block_suspend",
	"cap_audit_read",
	"cap_perfmon",
	"cap_bpf",
	"cap_checkpoint_restore",
}

// Name returns the capability name for bit n. Bits newer than the table
// render as cap_<n>.
func Name(n int) string {
	if n >= 0 && n < len(names) {
		return names[n]
	}
	return fmt.Sprintf("cap_%d", n)
}

// DecodeMask expands a capability bitmask into names, lowest bit first.
func DecodeMask(mask uint64) []string {
	out := make([]string, 0, bits.OnesCount64(mask))
	for n := 0; mask != 0; n++ {
		if mask&1 == 1 {
			out = append(out, Name(n))
		}
		mask >>= 1
	}
	return out
}

// ParseMask parses a hex mask as printed in /proc/<pid>/status.
func ParseMask(hex string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(hex), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse capability mask %q: %w", hex, err)
	}
	return v, nil
}
