package errors

const TransactionDomain = "transaction"

// Transaction error codes. Each failed outcome of a committed or rejected
// transaction maps onto one of these.
const (
	TransactionErrInvalidPayload      = "TRANSACTION_INVALID_PAYLOAD"
	TransactionErrInsufficientBalance = "TRANSACTION_INSUFFICIENT_BALANCE"
	// TransactionErrDuplicateNonce is a (sender, nonce) pair already used.
	TransactionErrDuplicateNonce = "TRANSACTION_DUPLICATE_NONCE"
	// TransactionErrApprovalPending is a multisig vote below threshold.
	TransactionErrApprovalPending = "TRANSACTION_APPROVAL_PENDING"
	// TransactionErrExpired is an expiration outside the accepted window,
	// or passed before execution.
	TransactionErrExpired          = "TRANSACTION_EXPIRED"
	TransactionErrInvalidSignature = "TRANSACTION_INVALID_SIGNATURE"
	TransactionErrInvalidChainID   = "TRANSACTION_INVALID_CHAIN_ID"
	TransactionErrMultisigNotFound = "TRANSACTION_MULTISIG_NOT_FOUND"
	TransactionErrNotMultisigOwner = "TRANSACTION_NOT_MULTISIG_OWNER"
	TransactionErrNotFound         = "TRANSACTION_NOT_FOUND"
	// TransactionErrWaitTimeout is a transaction not committed within the wait timeout.
	TransactionErrWaitTimeout   = "TRANSACTION_WAIT_TIMEOUT"
	TransactionErrSerialization = "TRANSACTION_SERIALIZATION"
	TransactionErrInvalidAmount = "TRANSACTION_INVALID_AMOUNT"
)

// Transaction operations
const (
	OpBuildTransaction    = "BuildTransaction"
	OpSignTransaction     = "SignTransaction"
	OpVerifyTransaction   = "VerifyTransaction"
	OpValidateTransaction = "ValidateTransaction"
	OpSubmitTransaction   = "SubmitTransaction"
	OpReserveNonce        = "ReserveNonce"
	OpExecuteTransaction  = "ExecuteTransaction"
	OpWaitForTransaction  = "WaitForTransaction"
	OpGetTransaction      = "GetTransaction"
	OpEncodeTransaction   = "EncodeTransaction"
	OpDecodeTransaction   = "DecodeTransaction"
	OpFundAccount         = "FundAccount"
	OpGetBalance          = "GetBalance"
)

func NewTransactionError(code string, message string, err error) error {
	return newError(TransactionDomain, "", code, message, err)
}

// TransactionOpError is a transaction error without an underlying cause.
func TransactionOpError(operation string, code string, message string) error {
	return newError(TransactionDomain, operation, code, message, nil)
}

// TransactionWrap adds an operation and message to err without a code of
// its own, so err's code still decides the status. nil stays nil.
func TransactionWrap(err error, operation string, message string) error {
	return wrapError(TransactionDomain, operation, "", message, err)
}

// TransactionWrapWithCode returns nil when err is nil.
func TransactionWrapWithCode(err error, operation string, code string, message string) error {
	return wrapError(TransactionDomain, operation, code, message, err)
}

func IsTransactionError(err error, code string) bool {
	return hasCode(err, TransactionDomain, code)
}

// IsDuplicateNonce reports whether err is a replay rejection.
func IsDuplicateNonce(err error) bool {
	return IsTransactionError(err, TransactionErrDuplicateNonce)
}
