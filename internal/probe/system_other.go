//go:build !linux

package probe

import (
	"errors"
	"runtime"

	"github.com/ppiankov/rootguard/internal/model"
)

func (s *System) uidMapping() (RawMapping, error) {
	return RawMapping{}, &Unavailable{
		Signal: model.SignalUIDMapping,
		Reason: "user namespaces not supported on " + runtime.GOOS,
	}
}

func (s *System) capabilities() (RawCapabilities, error) {
	return RawCapabilities{}, &Unavailable{
		Signal: model.SignalCapabilities,
		Reason: "capability model not supported on " + runtime.GOOS,
	}
}

func systemCapget() (string, error) {
	return "", errors.New("capget not supported on " + runtime.GOOS)
}
