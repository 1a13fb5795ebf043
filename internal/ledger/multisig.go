package ledger

import (
	"context"
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

// MultisigAccount is an account controlled by a set of owners, any
// NumSignaturesRequired of whom must vote for a payload before it runs.
type MultisigAccount struct {
	Address               types.AccountAddress   `json:"address" cbor:"1,keyasint"`
	Owners                []types.AccountAddress `json:"owners" cbor:"2,keyasint"`
	NumSignaturesRequired uint64                 `json:"num_signatures_required,string" cbor:"3,keyasint"`
	Creator               types.AccountAddress   `json:"creator" cbor:"4,keyasint"`
	Proposals             []*Proposal            `json:"pending_proposals" cbor:"5,keyasint"`
}

// Proposal collects votes for one payload.
type Proposal struct {
	ID          string                   `json:"id" cbor:"1,keyasint"`
	PayloadHash types.HashValue          `json:"payload_hash" cbor:"2,keyasint"`
	Payload     types.TransactionPayload `json:"payload" cbor:"3,keyasint"`
	Votes       []types.AccountAddress   `json:"votes" cbor:"4,keyasint"`
}

// MultisigAddress derives the address of the multisig account created by
// creator's transaction with nonce.
func MultisigAddress(creator types.AccountAddress, nonce uint64) types.AccountAddress {
	return types.DeriveAddress(creator.Bytes(), binary.BigEndian.AppendUint64(nil, nonce), []byte{0xFF})
}

// IsOwner reports whether addr is one of the owners.
func (m *MultisigAccount) IsOwner(addr types.AccountAddress) bool {
	for _, o := range m.Owners {
		if o == addr {
			return true
		}
	}
	return false
}

// proposal returns the open proposal for payloadHash, opening one if needed.
func (m *MultisigAccount) proposal(payloadHash types.HashValue, payload types.TransactionPayload) *Proposal {
	for _, p := range m.Proposals {
		if p.PayloadHash == payloadHash {
			return p
		}
	}
	p := &Proposal{ID: uuid.NewString(), PayloadHash: payloadHash, Payload: payload}
	m.Proposals = append(m.Proposals, p)
	return p
}

func (m *MultisigAccount) removeProposal(id string) {
	kept := m.Proposals[:0]
	for _, p := range m.Proposals {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	m.Proposals = kept
}

// vote records voter once and reports the vote count.
func (p *Proposal) vote(voter types.AccountAddress) uint64 {
	for _, v := range p.Votes {
		if v == voter {
			return uint64(len(p.Votes))
		}
	}
	p.Votes = append(p.Votes, voter)
	return uint64(len(p.Votes))
}

// Multisig returns the multisig account at addr.
func (l *Ledger) Multisig(ctx context.Context, addr types.AccountAddress) (*MultisigAccount, error) {
	var ms *MultisigAccount
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ms, err = getMultisig(tx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ms == nil {
		return nil, errors.TransactionOpError(errors.OpGetTransaction, errors.TransactionErrMultisigNotFound,
			"multisig account "+addr.String()+" not found")
	}
	return ms, nil
}

func multisigKey(addr types.AccountAddress) string { return multisigKeyPrefix + addr.String() }

func getMultisig(tx storage.Tx, addr types.AccountAddress) (*MultisigAccount, error) {
	data, err := tx.Get(multisigKey(addr))
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ms MultisigAccount
	if err := types.DecodeCanonical(data, &ms); err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpDeserialize, errors.StorageErrDeserialization,
			"failed to decode multisig account")
	}
	return &ms, nil
}

func putMultisig(tx storage.Tx, ms *MultisigAccount) error {
	if ms.Proposals == nil {
		ms.Proposals = []*Proposal{}
	}
	data, err := types.EncodeCanonical(ms)
	if err != nil {
		return errors.StorageWrapWithCode(err, errors.OpSerialize, errors.StorageErrSerialization,
			"failed to encode multisig account")
	}
	return tx.Set(multisigKey(ms.Address), data, 0)
}
