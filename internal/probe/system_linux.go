//go:build linux

package probe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ppiankov/rootguard/internal/model"
)

func (s *System) uidMapping() (RawMapping, error) {
	self := filepath.Join(s.procRoot, "self")
	if _, err := os.Stat(self); err != nil {
		// Without procfs we cannot tell "no namespaces" from "not mounted".
		return RawMapping{}, &Unavailable{Signal: model.SignalUIDMapping, Reason: "procfs not available at " + s.procRoot, Err: err}
	}

	path := filepath.Join(self, "uid_map")
	data, err := readCapped(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RawMapping{Present: false}, nil
		}
		return RawMapping{}, &Unavailable{Signal: model.SignalUIDMapping, Reason: "read " + path, Err: err}
	}
	return RawMapping{Present: true, Text: string(data)}, nil
}

func (s *System) capabilities() (RawCapabilities, error) {
	path := filepath.Join(s.procRoot, "self", "status")
	data, statusErr := readCapped(path)
	if statusErr == nil {
		if line, ok := capEffLine(data); ok {
			return RawCapabilities{Source: path, Text: line}, nil
		}
		statusErr = fmt.Errorf("no CapEff line in %s", path)
	}

	text, capErr := s.capget()
	if capErr == nil {
		return RawCapabilities{Source: "capget", Text: text}, nil
	}

	return RawCapabilities{}, &Unavailable{
		Signal: model.SignalCapabilities,
		Reason: "status and capget both failed",
		Err:    errors.Join(statusErr, capErr),
	}
}

func capEffLine(status []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(status))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "CapEff:") {
			return line, true
		}
	}
	return "", false
}

// systemCapget renders capget(2) output in the same shape as the status
// line so the analyzer has a single format to decode.
func systemCapget() (string, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return "", fmt.Errorf("capget: %w", err)
	}
	eff := uint64(data[1].Effective)<<32 | uint64(data[0].Effective)
	return fmt.Sprintf("CapEff:\t%016x", eff), nil
}
