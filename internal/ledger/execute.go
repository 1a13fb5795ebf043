package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

// Execute runs the pending transaction stored under hash and commits its
// outcome. Effects, the version bump and the nonce status change land in one
// storage transaction. Executing an already finished transaction returns its
// record unchanged, so redelivered queue messages are harmless.
func (l *Ledger) Execute(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	var out *transaction.Record
	var alreadyDone bool

	err := l.store.Update(ctx, func(tx storage.Tx) error {
		rec, err := GetRecord(tx, hash)
		if err != nil {
			return err
		}
		alreadyDone = rec.Outcome != types.OutcomePending
		if alreadyDone {
			out = rec
			return nil
		}

		now := l.opts.Clock.Now()
		raw := &rec.Transaction.Raw
		ex := &execution{tx: tx, raw: raw, signer: raw.Sender}

		var res result
		if now.Unix() >= int64(raw.ExpirationTimestampSecs) {
			res = failed(types.OutcomeExpired, "transaction expired at %d before execution", raw.ExpirationTimestampSecs)
		} else if raw.IsMultisig() {
			res, err = ex.vote(*raw.MultisigAddress)
		} else {
			res, err = ex.run(raw.Payload.Payload)
		}
		if err != nil {
			return err
		}

		rec.Outcome = res.outcome
		rec.VMStatus = res.status
		rec.CommittedAt = now.UnixMicro()

		nonceStatus := NonceDiscarded
		if res.outcome.Committed() {
			nonceStatus = NonceCommitted
			version, err := getUint(tx, versionKey)
			if err != nil {
				return err
			}
			version++
			if err := putUint(tx, versionKey, version); err != nil {
				return err
			}
			rec.Version = version
			for _, addr := range ex.touched {
				if err := l.indexAccount(tx, addr, rec.Hash); err != nil {
					return err
				}
			}
		}

		if err := l.markNonce(tx, raw, now, nonceStatus); err != nil {
			return err
		}
		if err := PutRecord(tx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, errors.TransactionWrap(err, errors.OpExecuteTransaction, "failed to execute "+hash.String())
	}

	if !alreadyDone {
		l.logger.Debug("Executed transaction",
			"hash", hash.String(),
			"outcome", string(out.Outcome),
			"version", out.Version,
		)
	}
	return out, nil
}

// markNonce updates the nonce record while keeping its retention deadline.
func (l *Ledger) markNonce(tx storage.Tx, raw *transaction.RawTransaction, now time.Time, status string) error {
	key := nonceKey(raw.Sender, raw.Nonce)
	rec, err := getNonce(tx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		// Evicted early; keep the pair used until the transaction expires.
		rec = &NonceRecord{RetainUntil: int64(raw.ExpirationTimestampSecs)}
	}
	rec.Status = status

	ttl := time.Unix(rec.RetainUntil, 0).Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return putNonce(tx, key, *rec, ttl)
}

// vote records the sender's vote for the payload on multisig and runs the
// payload as multisig once enough owners agree. The proposal is cleared only
// when the payload executes; a failed run keeps the votes so the next vote
// retries it.
func (ex *execution) vote(multisig types.AccountAddress) (result, error) {
	ms, err := getMultisig(ex.tx, multisig)
	if err != nil {
		return result{}, err
	}
	if ms == nil {
		return failed(types.OutcomeMultisigNotFound, "multisig account %s does not exist", multisig.String()), nil
	}
	if !ms.IsOwner(ex.raw.Sender) {
		return failed(types.OutcomeNotMultisigOwner, "%s is not an owner of %s", ex.raw.Sender.String(), multisig.String()), nil
	}
	if err := ValidatePayload(ex.raw.Payload.Payload); err != nil {
		return failed(types.OutcomeInvalidPayload, "%s", err.Error()), nil
	}

	payloadHash, err := ex.raw.Payload.Hash()
	if err != nil {
		return result{}, err
	}
	proposal := ms.proposal(payloadHash, ex.raw.Payload)
	votes := proposal.vote(ex.raw.Sender)
	ex.touched = append(ex.touched, multisig)

	if votes < ms.NumSignaturesRequired {
		if err := putMultisig(ex.tx, ms); err != nil {
			return result{}, err
		}
		return result{types.OutcomeApprovalPending, fmt.Sprintf("Multisig vote recorded (%d of %d) for proposal %s",
			votes, ms.NumSignaturesRequired, proposal.ID)}, nil
	}

	ex.signer = multisig
	res, err := ex.run(ex.raw.Payload.Payload)
	if err != nil {
		return result{}, err
	}
	if res.outcome == types.OutcomeExecuted {
		ms.removeProposal(proposal.ID)
		res.status = fmt.Sprintf("%s (multisig proposal %s, %d of %d votes)",
			res.status, proposal.ID, votes, ms.NumSignaturesRequired)
	}
	if err := putMultisig(ex.tx, ms); err != nil {
		return result{}, err
	}
	return res, nil
}
