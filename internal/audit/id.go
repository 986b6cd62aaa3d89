package audit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewCheckID returns a random "c-" prefixed identifier for one guard check.
func NewCheckID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("c-%x", time.Now().UnixNano())
	}
	return "c-" + hex.EncodeToString(b)
}
