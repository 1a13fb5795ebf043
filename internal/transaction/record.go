package transaction

import (
	"encoding/json"
	"time"

	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

// Record is what the node stores for every accepted transaction. Timestamps
// are unix microseconds.
type Record struct {
	Hash        types.HashValue   `json:"hash" cbor:"1,keyasint"`
	Transaction SignedTransaction `json:"transaction" cbor:"2,keyasint"`
	Outcome     types.Outcome     `json:"outcome" cbor:"3,keyasint"`
	VMStatus    string            `json:"vm_status" cbor:"4,keyasint"`
	Version     uint64            `json:"version,string" cbor:"5,keyasint"`
	BlockHeight uint64            `json:"block_height,string" cbor:"6,keyasint"`
	SubmittedAt int64             `json:"submitted_at_usecs,string" cbor:"7,keyasint"`
	CommittedAt int64             `json:"committed_at_usecs,string,omitempty" cbor:"8,keyasint,omitempty"`
}

// NewRecord creates the pending record for an accepted transaction.
func NewRecord(tx *SignedTransaction, submittedAt time.Time) (*Record, error) {
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	return &Record{
		Hash:        hash,
		Transaction: *tx,
		Outcome:     types.OutcomePending,
		VMStatus:    "Pending",
		SubmittedAt: submittedAt.UnixMicro(),
	}, nil
}

// Committed reports whether the transaction made it into a block.
func (r *Record) Committed() bool {
	return r.Outcome.Committed()
}

// Success reports whether the payload's effects were applied or the vote recorded.
func (r *Record) Success() bool {
	return r.Outcome.Success()
}

// Err returns the error a committed failure stands for, or nil.
func (r *Record) Err() error {
	if r.Outcome == types.OutcomePending {
		return nil
	}
	err := r.Outcome.Err(r.VMStatus)
	if err == nil {
		return nil
	}
	return errors.WrapWithField(errors.WrapWithOperation(err, errors.OpExecuteTransaction), "hash", r.Hash.String())
}

// Encode returns the canonical encoding of the record.
func (r *Record) Encode() ([]byte, error) {
	enc, err := types.EncodeCanonical(r)
	if err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpEncodeTransaction,
			errors.TransactionErrSerialization, "failed to encode transaction record")
	}
	return enc, nil
}

// DecodeRecord parses the output of Record.Encode.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := types.DecodeCanonical(data, &r); err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpDecodeTransaction,
			errors.TransactionErrSerialization, "failed to decode transaction record")
	}
	return &r, nil
}

// ToJSON returns the API representation of the record.
func (r *Record) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpEncodeTransaction,
			errors.TransactionErrSerialization, "failed to marshal transaction record")
	}
	return data, nil
}
