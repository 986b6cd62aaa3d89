package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// FormatEntry renders one entry as a fixed-width timeline line.
func FormatEntry(e Entry) string {
	decision := "ALLOW"
	if e.Privileged {
		decision = "REFUSE"
	}
	conf := strings.ToUpper(e.Confidence)
	line := fmt.Sprintf("%-20s %-14s %-7s %-10s %-24s %s",
		formatTimestamp(e.Timestamp), e.CheckID, decision, conf,
		truncate(e.Operation, 24), strings.Join(e.Basis, ","))
	if len(e.Unknowns) > 0 {
		line += fmt.Sprintf("  [unverified: %s]", strings.Join(e.Unknowns, ","))
	}
	return line
}

// FormatJSON renders an entry as indented JSON.
func FormatJSON(e Entry) (string, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	return string(data), nil
}

// Tail returns the last n parseable entries of the log and the offset
// just past the last complete line, for a follow-up Follow call. A
// trailing line without its newline is still being written and is left
// for Follow to pick up.
func Tail(path string, n int) ([]Entry, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	var offset int64
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read audit log: %w", err)
		}
		offset += int64(len(raw))
		var e Entry
		if err := json.Unmarshal(bytes.TrimRight(raw, "\r\n"), &e); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, e)
	}

	if n >= 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, offset, nil
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
