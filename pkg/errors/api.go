package errors

import "net/http"

const APIDomain = "api"

// API error codes
const (
	APIErrBadRequest         = "API_BAD_REQUEST"
	APIErrUnauthorized       = "API_UNAUTHORIZED"
	APIErrNotFound           = "API_NOT_FOUND"
	APIErrInternalServer     = "API_INTERNAL_SERVER"
	APIErrServiceUnavailable = "API_SERVICE_UNAVAILABLE"
	APIErrRateLimitExceeded  = "API_RATE_LIMIT_EXCEEDED"
	APIErrFaucetDisabled     = "API_FAUCET_DISABLED"
)

// API operations
const (
	OpHandleRequest    = "HandleRequest"
	OpParseRequestBody = "ParseRequestBody"
	OpStartServer      = "StartServer"
	OpShutdownServer   = "ShutdownServer"
	OpDecodeResponse   = "DecodeResponse"
)

func NewAPIError(code string, message string, err error) error {
	return newError(APIDomain, "", code, message, err)
}

func APIErrorf(code string, format string, args ...interface{}) error {
	return newError(APIDomain, "", code, Sprintf(format, args...), nil)
}

// APIWrapWithCode returns nil when err is nil.
func APIWrapWithCode(err error, operation string, code string, message string) error {
	return wrapError(APIDomain, operation, code, message, err)
}

func IsAPIError(err error, code string) bool {
	return hasCode(err, APIDomain, code)
}

// httpStatus maps codes onto the status the API answers with. Codes not
// listed are internal errors.
var httpStatus = map[string]int{
	APIErrBadRequest:               http.StatusBadRequest,
	TransactionErrInvalidPayload:   http.StatusBadRequest,
	TransactionErrInvalidSignature: http.StatusBadRequest,
	TransactionErrInvalidChainID:   http.StatusBadRequest,
	TransactionErrExpired:          http.StatusBadRequest,
	TransactionErrSerialization:    http.StatusBadRequest,
	TransactionErrInvalidAmount:    http.StatusBadRequest,

	APIErrUnauthorized: http.StatusUnauthorized,

	APIErrFaucetDisabled:           http.StatusForbidden,
	TransactionErrNotMultisigOwner: http.StatusForbidden,

	APIErrNotFound:                 http.StatusNotFound,
	TransactionErrNotFound:         http.StatusNotFound,
	TransactionErrMultisigNotFound: http.StatusNotFound,
	StorageErrNotFound:             http.StatusNotFound,

	TransactionErrDuplicateNonce: http.StatusConflict,

	TransactionErrInsufficientBalance: http.StatusUnprocessableEntity,

	APIErrRateLimitExceeded: http.StatusTooManyRequests,

	TransactionErrWaitTimeout: http.StatusGatewayTimeout,

	APIErrServiceUnavailable: http.StatusServiceUnavailable,
	StorageErrConnection:     http.StatusServiceUnavailable,
	StorageErrConflict:       http.StatusServiceUnavailable,
	QueueErrConnection:       http.StatusServiceUnavailable,
	QueueErrClosed:           http.StatusServiceUnavailable,
	QueueErrFull:             http.StatusServiceUnavailable,
}

// HTTPStatusFromError maps the code of err's chain to an HTTP status.
func HTTPStatusFromError(err error) int {
	if status, ok := httpStatus[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}
