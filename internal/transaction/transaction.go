// internal/transaction/transaction.go
package transaction

import (
	"encoding/json"
	"time"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

const (
	rawTransactionSalt = "ORDERLESS::RawTransaction"
	transactionSalt    = "ORDERLESS::Transaction"

	// DefaultChainID is the chain id of a local test node.
	DefaultChainID uint8 = 4
	// DefaultExpiration is how far ahead a new transaction expires.
	DefaultExpiration = 30 * time.Second
)

// RawTransaction is an unsigned orderless transaction. The nonce takes the
// place of a sequence number: any unused value is valid, in any order.
type RawTransaction struct {
	Sender                  types.AccountAddress     `json:"sender" cbor:"1,keyasint"`
	Payload                 types.TransactionPayload `json:"payload" cbor:"2,keyasint"`
	Nonce                   uint64                   `json:"replay_protection_nonce,string" cbor:"3,keyasint"`
	MultisigAddress         *types.AccountAddress    `json:"multisig_address,omitempty" cbor:"4,keyasint,omitempty"`
	ExpirationTimestampSecs uint64                   `json:"expiration_timestamp_secs,string" cbor:"5,keyasint"`
	ChainID                 uint8                    `json:"chain_id" cbor:"6,keyasint"`
}

// Option customizes a RawTransaction.
type Option func(*RawTransaction)

// WithMultisig makes the transaction a vote for payload on behalf of multisig.
func WithMultisig(multisig types.AccountAddress) Option {
	return func(r *RawTransaction) {
		addr := multisig
		r.MultisigAddress = &addr
	}
}

// WithExpiresAt sets an absolute expiration time.
func WithExpiresAt(t time.Time) Option {
	return func(r *RawTransaction) {
		r.ExpirationTimestampSecs = uint64(t.Unix())
	}
}

// WithChainID sets the chain id the transaction is valid on.
func WithChainID(id uint8) Option {
	return func(r *RawTransaction) {
		r.ChainID = id
	}
}

// NewRawTransaction creates a raw transaction expiring DefaultExpiration from now.
func NewRawTransaction(sender types.AccountAddress, payload types.Payload, nonce uint64, opts ...Option) (*RawTransaction, error) {
	if payload == nil {
		return nil, errors.TransactionOpError(errors.OpBuildTransaction,
			errors.TransactionErrInvalidPayload, "payload is required")
	}

	raw := &RawTransaction{
		Sender:                  sender,
		Payload:                 types.TransactionPayload{Payload: payload},
		Nonce:                   nonce,
		ExpirationTimestampSecs: uint64(time.Now().Add(DefaultExpiration).Unix()),
		ChainID:                 DefaultChainID,
	}
	for _, opt := range opts {
		opt(raw)
	}
	return raw, nil
}

// IsMultisig reports whether the transaction is a multisig vote.
func (r *RawTransaction) IsMultisig() bool {
	return r.MultisigAddress != nil
}

// ExpiresAt returns the expiration as a time.
func (r *RawTransaction) ExpiresAt() time.Time {
	return time.Unix(int64(r.ExpirationTimestampSecs), 0)
}

// SigningMessage returns the bytes an authenticator signs: a salt digest
// followed by the canonical encoding of the raw transaction.
func (r *RawTransaction) SigningMessage() ([]byte, error) {
	enc, err := types.EncodeCanonical(r)
	if err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpEncodeTransaction,
			errors.TransactionErrSerialization, "failed to encode raw transaction")
	}
	salt := types.HashOf(rawTransactionSalt)
	return append(salt[:], enc...), nil
}

// Authenticator carries the sender's public key and signature.
type Authenticator struct {
	Scheme    account.Scheme `json:"scheme" cbor:"1,keyasint"`
	PublicKey types.HexBytes `json:"public_key" cbor:"2,keyasint"`
	Signature types.HexBytes `json:"signature" cbor:"3,keyasint"`
}

// SignedTransaction is a raw transaction plus its authenticator.
type SignedTransaction struct {
	Raw           RawTransaction `json:"transaction" cbor:"1,keyasint"`
	Authenticator Authenticator  `json:"authenticator" cbor:"2,keyasint"`
}

// Sign signs raw with signer. The signer must own raw.Sender.
func Sign(raw *RawTransaction, signer *account.Account) (*SignedTransaction, error) {
	if signer.Address() != raw.Sender {
		return nil, errors.TransactionOpError(errors.OpSignTransaction,
			errors.TransactionErrInvalidSignature, "signer does not own sender address "+raw.Sender.String())
	}

	msg, err := raw.SigningMessage()
	if err != nil {
		return nil, err
	}

	return &SignedTransaction{
		Raw: *raw,
		Authenticator: Authenticator{
			Scheme:    signer.Scheme(),
			PublicKey: signer.PublicKey(),
			Signature: signer.Sign(msg),
		},
	}, nil
}

// Hash returns the transaction identifier.
func (tx *SignedTransaction) Hash() (types.HashValue, error) {
	enc, err := tx.Encode()
	if err != nil {
		return types.HashValue{}, err
	}
	return types.HashOf(transactionSalt, enc), nil
}

// VerifySignature checks that the authenticator key owns the sender address
// and that the signature covers the raw transaction.
func (tx *SignedTransaction) VerifySignature() error {
	auth := tx.Authenticator
	if account.AuthenticationKey(auth.Scheme, auth.PublicKey) != tx.Raw.Sender {
		return errors.TransactionOpError(errors.OpVerifyTransaction,
			errors.TransactionErrInvalidSignature, "public key does not match sender")
	}

	msg, err := tx.Raw.SigningMessage()
	if err != nil {
		return err
	}
	if err := account.Verify(auth.Scheme, auth.PublicKey, msg, auth.Signature); err != nil {
		return errors.TransactionWrapWithCode(err, errors.OpVerifyTransaction,
			errors.TransactionErrInvalidSignature, "signature verification failed")
	}
	return nil
}

// Encode returns the canonical encoding of the signed transaction.
func (tx *SignedTransaction) Encode() ([]byte, error) {
	enc, err := types.EncodeCanonical(tx)
	if err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpEncodeTransaction,
			errors.TransactionErrSerialization, "failed to encode transaction")
	}
	return enc, nil
}

// Decode parses the output of Encode.
func Decode(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := types.DecodeCanonical(data, &tx); err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpDecodeTransaction,
			errors.TransactionErrSerialization, "failed to decode transaction")
	}
	return &tx, nil
}

// ToJSON serializes the transaction to JSON
func (tx *SignedTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(tx)
}

// FromJSON deserializes the transaction from JSON
func FromJSON(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpDecodeTransaction,
			errors.TransactionErrSerialization, "failed to deserialize transaction")
	}
	return &tx, nil
}
