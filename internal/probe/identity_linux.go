//go:build linux

package probe

import "golang.org/x/sys/unix"

func systemIdentity() (Identity, error) {
	ruid, euid, suid := unix.Getresuid()
	rgid, egid, sgid := unix.Getresgid()
	return Identity{
		RealUID:      ruid,
		EffectiveUID: euid,
		SavedUID:     suid,
		RealGID:      rgid,
		EffectiveGID: egid,
		SavedGID:     sgid,
	}, nil
}
