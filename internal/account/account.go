// Package account provides signing keypairs and the addresses derived from them.
package account

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/minio/sha256-simd"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	"github.com/cmatc13/orderless/internal/types"
)

// Scheme identifies the signature scheme of a key. Its byte value is mixed
// into the address so the same key bytes under two schemes never collide.
type Scheme uint8

const (
	// Ed25519 is the default scheme.
	Ed25519 Scheme = 0x00
	// Secp256k1 signs the SHA-256 of the message with ECDSA.
	Secp256k1 Scheme = 0x02
)

// ErrInvalidSignature is returned by Verify for a signature that does not check out.
var ErrInvalidSignature = errors.New("invalid signature")

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case Ed25519:
		return "ed25519"
	case Secp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme parses a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "", "ed25519":
		return Ed25519, nil
	case "secp256k1":
		return Secp256k1, nil
	default:
		return 0, fmt.Errorf("unknown signature scheme %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Account is a keypair plus its derived address.
type Account struct {
	scheme    Scheme
	address   types.AccountAddress
	publicKey []byte
	edKey     ed25519.PrivateKey
	ecKey     *btcec.PrivateKey
	CreatedAt time.Time
}

// New creates an ed25519 account.
func New() (*Account, error) {
	return Generate(Ed25519)
}

// Generate creates an account with a fresh key for scheme.
func Generate(scheme Scheme) (*Account, error) {
	switch scheme {
	case Ed25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		return fromEd25519(priv), nil
	case Secp256k1:
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return fromSecp256k1(priv), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %s", scheme)
	}
}

// FromPrivateKeyHex imports an account exported by ExportPrivateKey.
func FromPrivateKeyHex(scheme Scheme, privateKeyHex string) (*Account, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key format: %w", err)
	}

	switch scheme {
	case Ed25519:
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
		}
		return fromEd25519(ed25519.NewKeyFromSeed(raw)), nil
	case Secp256k1:
		if len(raw) != btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("secp256k1 key must be %d bytes", btcec.PrivKeyBytesLen)
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return fromSecp256k1(priv), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %s", scheme)
	}
}

func fromEd25519(priv ed25519.PrivateKey) *Account {
	pub := []byte(priv.Public().(ed25519.PublicKey))
	return &Account{
		scheme:    Ed25519,
		address:   AuthenticationKey(Ed25519, pub),
		publicKey: pub,
		edKey:     priv,
		CreatedAt: time.Now(),
	}
}

func fromSecp256k1(priv *btcec.PrivateKey) *Account {
	pub := priv.PubKey().SerializeCompressed()
	return &Account{
		scheme:    Secp256k1,
		address:   AuthenticationKey(Secp256k1, pub),
		publicKey: pub,
		ecKey:     priv,
		CreatedAt: time.Now(),
	}
}

// AuthenticationKey derives the address owned by a public key.
func AuthenticationKey(scheme Scheme, publicKey []byte) types.AccountAddress {
	return types.DeriveAddress(publicKey, []byte{byte(scheme)})
}

// Address returns the account address.
func (a *Account) Address() types.AccountAddress { return a.address }

// Scheme returns the signature scheme.
func (a *Account) Scheme() Scheme { return a.scheme }

// PublicKey returns a copy of the public key bytes.
func (a *Account) PublicKey() []byte { return append([]byte(nil), a.publicKey...) }

// ExportPrivateKey exports the private key (the ed25519 seed) as hex.
func (a *Account) ExportPrivateKey() string {
	if a.scheme == Ed25519 {
		return hex.EncodeToString(a.edKey.Seed())
	}
	return hex.EncodeToString(a.ecKey.Serialize())
}

// Sign signs message with the account key.
func (a *Account) Sign(message []byte) []byte {
	if a.scheme == Ed25519 {
		return ed25519.Sign(a.edKey, message)
	}
	digest := sha256.Sum256(message)
	return ecdsa.Sign(a.ecKey, digest[:]).Serialize()
}

// Verify checks signature over message against publicKey.
func Verify(scheme Scheme, publicKey, message, signature []byte) error {
	switch scheme {
	case Ed25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key must be %d bytes", ed25519.PublicKeySize)
		}
		if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
			return ErrInvalidSignature
		}
		return nil
	case Secp256k1:
		pub, err := btcec.ParsePubKey(publicKey)
		if err != nil {
			return fmt.Errorf("failed to parse public key: %w", err)
		}
		sig, err := ecdsa.ParseSignature(signature)
		if err != nil {
			return fmt.Errorf("failed to parse signature: %w", err)
		}
		digest := sha256.Sum256(message)
		if !sig.Verify(digest[:], pub) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return fmt.Errorf("unsupported scheme %s", scheme)
	}
}
