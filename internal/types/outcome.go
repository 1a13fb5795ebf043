package types

import (
	"github.com/cmatc13/orderless/pkg/errors"
)

// Outcome is the result of submitting or executing an orderless transaction.
type Outcome string

const (
	// OutcomePending: accepted, nonce reserved, not yet committed.
	OutcomePending Outcome = "pending"
	// OutcomeExecuted: committed and the payload's effects applied.
	OutcomeExecuted Outcome = "executed"
	// OutcomeApprovalPending: committed as a multisig vote below threshold.
	OutcomeApprovalPending Outcome = "approval_pending"

	OutcomeDuplicateNonce      Outcome = "duplicate_nonce"
	OutcomeInvalidPayload      Outcome = "invalid_payload"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeExpired             Outcome = "expired"
	OutcomeInvalidSignature    Outcome = "invalid_signature"
	OutcomeMultisigNotFound    Outcome = "multisig_not_found"
	OutcomeNotMultisigOwner    Outcome = "not_multisig_owner"
)

var outcomeCodes = map[Outcome]string{
	OutcomeApprovalPending:     errors.TransactionErrApprovalPending,
	OutcomeDuplicateNonce:      errors.TransactionErrDuplicateNonce,
	OutcomeInvalidPayload:      errors.TransactionErrInvalidPayload,
	OutcomeInsufficientBalance: errors.TransactionErrInsufficientBalance,
	OutcomeExpired:             errors.TransactionErrExpired,
	OutcomeInvalidSignature:    errors.TransactionErrInvalidSignature,
	OutcomeMultisigNotFound:    errors.TransactionErrMultisigNotFound,
	OutcomeNotMultisigOwner:    errors.TransactionErrNotMultisigOwner,
}

// Committed reports whether the outcome belongs to a transaction that made it
// into a block. Committed transactions consume their nonce whether or not the
// payload ran.
func (o Outcome) Committed() bool {
	switch o {
	case OutcomeExecuted, OutcomeApprovalPending, OutcomeInvalidPayload,
		OutcomeInsufficientBalance, OutcomeMultisigNotFound, OutcomeNotMultisigOwner:
		return true
	}
	return false
}

// Success reports whether the payload's effects were applied, or, for a
// multisig vote, whether the vote was recorded.
func (o Outcome) Success() bool {
	return o == OutcomeExecuted || o == OutcomeApprovalPending
}

// Code returns the error code reported for a failed outcome, or "" for success.
func (o Outcome) Code() string {
	if o == OutcomeApprovalPending {
		return ""
	}
	return outcomeCodes[o]
}

// Err converts a failed outcome into a transaction error.
func (o Outcome) Err(message string) error {
	code := o.Code()
	if code == "" {
		return nil
	}
	return errors.NewTransactionError(code, message, nil)
}

// OutcomeFromError recovers the outcome a transaction error stands for.
func OutcomeFromError(err error) (Outcome, bool) {
	code := errors.CodeOf(err)
	for o, c := range outcomeCodes {
		if c == code {
			return o, true
		}
	}
	return "", false
}
