// Package timeoracle is the node's single source of time. It decides whether a
// transaction expiration is acceptable and stamps sealed blocks with an
// HMAC time proof.
package timeoracle

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/sha256-simd"
)

// Common errors
var (
	ErrExpired          = errors.New("transaction expired")
	ErrExpirationTooFar = errors.New("expiration is too far in the future")
	ErrInvalidProof     = errors.New("invalid time proof")
	ErrExpiredProof     = errors.New("time proof has expired")
)

// TimeOracle defines the interface for time-related operations
type TimeOracle interface {
	// Now returns the current time
	Now() time.Time

	// ValidateExpiration checks an expiration timestamp in unix seconds
	ValidateExpiration(expirationSecs uint64) error

	// RetentionTTL returns how long a nonce used by a transaction expiring
	// at expirationSecs must be remembered
	RetentionTTL(expirationSecs uint64) time.Duration

	// GenerateProof creates a time proof for the current time
	GenerateProof() (*TimeProof, error)

	// VerifyProof checks a time proof
	VerifyProof(proof *TimeProof) error
}

// TimeProof is an HMAC over a timestamp and nonce.
type TimeProof struct {
	Timestamp int64  `json:"timestamp" cbor:"1,keyasint"`
	Nonce     uint64 `json:"nonce" cbor:"2,keyasint"`
	Signature []byte `json:"signature" cbor:"3,keyasint"`
}

// Config holds the oracle's windows.
type Config struct {
	// ExpirationWindow bounds how far ahead an expiration may be.
	ExpirationWindow time.Duration
	// Retention is kept on top of the time left before expiration.
	Retention time.Duration
	// ProofValidity bounds the age of an accepted time proof.
	ProofValidity time.Duration
	// Secret keys the proofs; a random one is generated when empty.
	Secret []byte
}

// StandardTimeOracle implements TimeOracle on a clock.Clock.
type StandardTimeOracle struct {
	clock  clock.Clock
	config Config
}

// New creates an oracle on the wall clock.
func New(cfg Config) (*StandardTimeOracle, error) {
	return NewWithClock(clock.New(), cfg)
}

// NewWithClock creates an oracle on c, typically a clock.Mock in tests.
func NewWithClock(c clock.Clock, cfg Config) (*StandardTimeOracle, error) {
	if cfg.ExpirationWindow <= 0 {
		return nil, errors.New("expiration window must be positive")
	}
	if cfg.ProofValidity <= 0 {
		cfg.ProofValidity = 24 * time.Hour
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("failed to generate time proof secret: %w", err)
		}
	}
	if len(cfg.Secret) < 32 {
		return nil, errors.New("secret must be at least 32 bytes")
	}

	return &StandardTimeOracle{clock: c, config: cfg}, nil
}

// Clock returns the underlying clock.
func (o *StandardTimeOracle) Clock() clock.Clock {
	return o.clock
}

// Now returns the current time
func (o *StandardTimeOracle) Now() time.Time {
	return o.clock.Now()
}

// ValidateExpiration accepts expirations in (now, now+window].
func (o *StandardTimeOracle) ValidateExpiration(expirationSecs uint64) error {
	now := o.clock.Now().Unix()
	exp := int64(expirationSecs)

	if exp <= now {
		return fmt.Errorf("%w: expiration %d is not after now %d", ErrExpired, exp, now)
	}

	maxAllowed := now + int64(o.config.ExpirationWindow.Seconds())
	if exp > maxAllowed {
		return fmt.Errorf("%w: expiration %d is beyond max allowed %d",
			ErrExpirationTooFar, exp, maxAllowed)
	}

	return nil
}

// RetentionTTL returns the time until expiration plus the retention slack.
func (o *StandardTimeOracle) RetentionTTL(expirationSecs uint64) time.Duration {
	left := time.Unix(int64(expirationSecs), 0).Sub(o.clock.Now())
	if left < 0 {
		left = 0
	}
	return left + o.config.Retention
}

// GenerateProof creates a time proof for the current time
func (o *StandardTimeOracle) GenerateProof() (*TimeProof, error) {
	now := o.clock.Now()
	nonce := uint64(now.UnixNano())

	signature, err := o.signTimestamp(now.Unix(), nonce)
	if err != nil {
		return nil, err
	}

	return &TimeProof{
		Timestamp: now.Unix(),
		Nonce:     nonce,
		Signature: signature,
	}, nil
}

// VerifyProof checks if a time proof is valid
func (o *StandardTimeOracle) VerifyProof(proof *TimeProof) error {
	if proof == nil {
		return errors.New("proof cannot be nil")
	}

	now := o.clock.Now().Unix()
	if proof.Timestamp > now {
		return fmt.Errorf("%w: timestamp %d is in the future", ErrInvalidProof, proof.Timestamp)
	}
	if proof.Timestamp < now-int64(o.config.ProofValidity.Seconds()) {
		return fmt.Errorf("%w: timestamp %d", ErrExpiredProof, proof.Timestamp)
	}

	expectedSignature, err := o.signTimestamp(proof.Timestamp, proof.Nonce)
	if err != nil {
		return err
	}

	if !hmac.Equal(proof.Signature, expectedSignature) {
		return ErrInvalidProof
	}

	return nil
}

// signTimestamp creates an HMAC-SHA256 signature for a timestamp and nonce
func (o *StandardTimeOracle) signTimestamp(timestamp int64, nonce uint64) ([]byte, error) {
	h := hmac.New(sha256.New, o.config.Secret)

	if err := binary.Write(h, binary.BigEndian, timestamp); err != nil {
		return nil, err
	}
	if err := binary.Write(h, binary.BigEndian, nonce); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}
