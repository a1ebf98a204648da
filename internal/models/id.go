package models

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// NewID returns a 24-hex-character identifier. The length matches the
// correlation token embedded in outbound invitation subjects, so every
// RFP id is directly usable as a reply token.
func NewID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

var idPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// ValidID reports whether s is a well-formed 24-hex identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}
