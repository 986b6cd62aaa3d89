package audit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/rootguard/internal/model"
)

// Validate checks that an entry is a verdict the guard could have
// produced. Verify applies it to every line, so an edit that keeps the
// JSON well-formed but contradicts itself is caught on the line it was
// made, not only through the next line's prev_hash.
func (e Entry) Validate() error {
	conf := model.Confidence(e.Confidence)
	if conf != model.Definite && conf != model.Heuristic {
		return fmt.Errorf("confidence %q is neither definite nor heuristic", e.Confidence)
	}
	if len(e.Basis) == 0 {
		return errors.New("empty basis")
	}
	if e.Unknowns == nil {
		return errors.New("missing unknowns")
	}
	for _, u := range e.Unknowns {
		if !model.SignalName(u).Known() {
			return fmt.Errorf("unknown signal %q in unknowns", u)
		}
	}

	refusing, allowing := 0, 0
	noSignal := false
	for _, b := range e.Basis {
		kind := basisKind(b)
		if !kind.Known() {
			return fmt.Errorf("unknown basis %q", b)
		}
		if kind.Refuses() {
			refusing++
		} else {
			allowing++
		}
		noSignal = noSignal || kind == model.NoPrivilegeSignal
	}
	switch {
	case refusing > 0 && allowing > 0:
		return fmt.Errorf("basis %v mixes refusing and allowing signals", e.Basis)
	case e.Privileged && refusing == 0:
		return fmt.Errorf("is_privileged:true with allowing basis %v", e.Basis)
	case !e.Privileged && refusing > 0:
		return fmt.Errorf("is_privileged:false with refusing basis %v", e.Basis)
	}

	if conf == model.Heuristic && len(e.Unknowns) == 0 {
		return errors.New("heuristic verdict with no unverified signals")
	}
	if noSignal && conf == model.Definite && len(e.Unknowns) > 0 {
		return fmt.Errorf("definite NoPrivilegeSignal with unverified signals %v", e.Unknowns)
	}
	return nil
}

// basisKind strips the detail from a rendered basis entry.
func basisKind(b string) model.SignalKind {
	if i := strings.IndexByte(b, '('); i >= 0 {
		b = b[:i]
	}
	return model.SignalKind(b)
}
