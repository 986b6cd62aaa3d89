package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ppiankov/rootguard/internal/model"
)

// VerifyResult is the outcome of walking an audit log. Refused and
// Heuristic tally the verdicts that were checked before any failure.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Refused   int    `json:"refused"`
	Heuristic int    `json:"heuristic"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

func (r *VerifyResult) fail(line int, format string, args ...any) VerifyResult {
	r.Valid = false
	r.ErrorLine = line
	r.Error = fmt.Sprintf(format, args...)
	return *r
}

// Verify checks every line of the log. Each line must be a consistent
// verdict (see Entry.Validate) and must carry the hash of the line before
// it, genesis for the first. The first failing line is reported.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var res VerifyResult
	r := bufio.NewReader(f)
	want := GenesisHash
	for n := 1; ; n++ {
		raw, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(raw) > 0 {
				return res.fail(n, "unterminated final line")
			}
			break
		}
		if err != nil {
			return res.fail(n, "read: %v", err)
		}
		line := bytes.TrimSuffix(raw, []byte{'\n'})
		if len(line) > maxLine {
			return res.fail(n, "line exceeds %d bytes", maxLine)
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return res.fail(n, "parse error: %v", err)
		}
		if e.PrevHash != want {
			if n == 1 {
				return res.fail(n, "first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return res.fail(n, "hash mismatch: expected %s, got %s", want, e.PrevHash)
		}
		if err := e.Validate(); err != nil {
			return res.fail(n, "inconsistent verdict: %v", err)
		}

		res.Lines = n
		if e.Privileged {
			res.Refused++
		}
		if model.Confidence(e.Confidence) == model.Heuristic {
			res.Heuristic++
		}
		want = HashLine(line)
	}

	res.Valid = true
	return res
}
