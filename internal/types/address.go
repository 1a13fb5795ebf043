// Package types holds the value types shared by the node and its clients:
// addresses, typed arguments, payloads and transaction outcomes.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/sha3"
)

// AddressLength is the byte length of an account address.
const AddressLength = 32

// AccountAddress identifies an account on chain.
type AccountAddress [AddressLength]byte

// Reserved addresses
var (
	// AccountZero is never a valid sender.
	AccountZero = AccountAddress{}
	// AccountOne hosts the framework modules.
	AccountOne = mustShort(0x1)
	// AccountFaucet is the issuer every faucet mint is attributed to.
	AccountFaucet = mustShort(0xa)
)

func mustShort(b byte) AccountAddress {
	var a AccountAddress
	a[AddressLength-1] = b
	return a
}

// DeriveAddress hashes the given parts with SHA3-256 into an address.
func DeriveAddress(parts ...[]byte) AccountAddress {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var a AccountAddress
	copy(a[:], h.Sum(nil))
	return a
}

// ParseAddress accepts 0x-prefixed hex (short forms are left padded) or base58.
func ParseAddress(s string) (AccountAddress, error) {
	var a AccountAddress
	s = strings.TrimSpace(s)
	if s == "" {
		return a, fmt.Errorf("empty address")
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		h := s[2:]
		if len(h) == 0 || len(h) > 2*AddressLength {
			return a, fmt.Errorf("invalid address length %q", s)
		}
		if len(h)%2 == 1 {
			h = "0" + h
		}
		raw, err := hex.DecodeString(h)
		if err != nil {
			return a, fmt.Errorf("invalid hex address %q: %w", s, err)
		}
		copy(a[AddressLength-len(raw):], raw)
		return a, nil
	}

	raw := base58.Decode(s)
	if len(raw) != AddressLength {
		return a, fmt.Errorf("invalid address %q", s)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on bad input.
func MustParseAddress(s string) AccountAddress {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the long 0x-prefixed hex form.
func (a AccountAddress) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// StringShort trims leading zeros, so AccountOne prints as 0x1.
func (a AccountAddress) StringShort() string {
	s := strings.TrimLeft(hex.EncodeToString(a[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// Base58 returns the base58 text form.
func (a AccountAddress) Base58() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the zero address.
func (a AccountAddress) IsZero() bool {
	return a == AccountZero
}

// IsReserved reports addresses 0x0 through 0xf, which no key can own.
func (a AccountAddress) IsReserved() bool {
	for _, b := range a[:AddressLength-1] {
		if b != 0 {
			return false
		}
	}
	return a[AddressLength-1] <= 0xf
}

// Bytes returns a copy of the address bytes.
func (a AccountAddress) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// HexBytes is a byte slice whose text form is 0x-prefixed hex.
type HexBytes []byte

// String returns the 0x-prefixed hex form.
func (h HexBytes) String() string {
	return "0x" + hex.EncodeToString(h)
}

// MarshalText implements encoding.TextMarshaler.
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes: %w", err)
	}
	*h = raw
	return nil
}
