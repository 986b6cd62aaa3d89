package audit

import (
	"sort"
	"time"

	"github.com/ppiankov/rootguard/internal/model"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Hint is one environment hint captured at check time. Hints are recorded
// for the operator; they played no part in the verdict.
type Hint struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is one line in the hash-chained JSONL audit log.
// All fields are structs or slices (no maps) to guarantee deterministic
// json.Marshal output for reproducible hashing.
type Entry struct {
	Timestamp  string   `json:"ts"`
	CheckID    string   `json:"check_id"`
	Operation  string   `json:"operation"`
	Privileged bool     `json:"is_privileged"`
	Confidence string   `json:"confidence"`
	Basis      []string `json:"basis"`
	Unknowns   []string `json:"unknowns"`
	Hints      []Hint   `json:"hints,omitempty"`
	PolicyHash string   `json:"policy_hash"`
	PrevHash   string   `json:"prev_hash"`
}

// NewEntry flattens a verdict into an audit entry. Hints are sorted by key.
func NewEntry(now time.Time, operation string, v model.Verdict, hints map[string]string, policyHash string) Entry {
	e := Entry{
		Timestamp:  now.UTC().Format(TimestampFormat),
		CheckID:    NewCheckID(),
		Operation:  operation,
		Privileged: v.Privileged,
		Confidence: string(v.Confidence),
		Basis:      v.BasisStrings(),
		Unknowns:   v.UnknownStrings(),
		PolicyHash: policyHash,
	}
	for k, val := range hints {
		e.Hints = append(e.Hints, Hint{Key: k, Value: val})
	}
	sort.Slice(e.Hints, func(i, j int) bool { return e.Hints[i].Key < e.Hints[j].Key })
	return e
}
