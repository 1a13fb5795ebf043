package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashValue is a SHA3-256 digest.
type HashValue [32]byte

// HashOf returns SHA3-256 over a domain separator followed by data.
func HashOf(domain string, data ...[]byte) HashValue {
	h := sha3.New256()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write(d)
	}
	var out HashValue
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHash parses the 0x-prefixed 64 character hex form.
func ParseHash(s string) (HashValue, error) {
	var h HashValue
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

// String returns the 0x-prefixed hex form.
func (h HashValue) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether h is unset.
func (h HashValue) IsZero() bool {
	return h == HashValue{}
}

// MarshalText implements encoding.TextMarshaler.
func (h HashValue) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HashValue) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
