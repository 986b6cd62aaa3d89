//go:build unix && !linux

package probe

import "os"

// Saved IDs are not portably exposed outside Linux.
func systemIdentity() (Identity, error) {
	return Identity{
		RealUID:      os.Getuid(),
		EffectiveUID: os.Geteuid(),
		SavedUID:     -1,
		RealGID:      os.Getgid(),
		EffectiveGID: os.Getegid(),
		SavedGID:     -1,
	}, nil
}
