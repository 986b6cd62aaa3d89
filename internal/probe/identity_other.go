//go:build !unix

package probe

import (
	"runtime"

	"github.com/ppiankov/rootguard/internal/model"
)

func systemIdentity() (Identity, error) {
	return Identity{}, &Unavailable{
		Signal: model.SignalIdentity,
		Reason: "POSIX user IDs not supported on " + runtime.GOOS,
	}
}
