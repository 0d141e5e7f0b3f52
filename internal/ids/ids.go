package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// NewSession returns an opaque session identifier. Identifiers are
// assigned once at creation and never reused.
func NewSession() string {
	return "sess_" + random(16)
}

func random(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
