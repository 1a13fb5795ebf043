package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := TransactionWrapWithCode(fmt.Errorf("nonce 7"), OpReserveNonce, TransactionErrDuplicateNonce, "already used")
	assert.Equal(t, "[transaction.ReserveNonce] Code=TRANSACTION_DUPLICATE_NONCE: already used: nonce 7", err.Error())

	assert.Equal(t, "[] plain", (&Error{Message: "plain"}).Error())
}

func TestWrapDoesNotMutateOriginal(t *testing.T) {
	base := NewStorageError(StorageErrRead, "read failed", nil)
	wrapped := WrapWithField(WrapWithOperation(base, OpGet), "key", "balance:0x1")

	var original *Error
	require.True(t, As(base, &original))
	assert.Empty(t, original.Operation)
	assert.Nil(t, original.Fields)

	var got *Error
	require.True(t, As(wrapped, &got))
	assert.Equal(t, OpGet, got.Operation)
	assert.Equal(t, "balance:0x1", got.Fields["key"])
	assert.True(t, IsStorageError(wrapped, StorageErrRead))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, WrapWithCode(nil, "x"))
	assert.Nil(t, TransactionWrap(nil, OpGetTransaction, "x"))
	assert.Nil(t, WithStack(nil))
}

func TestWithStack(t *testing.T) {
	err := WithStack(fmt.Errorf("boom"))
	var domainErr *Error
	require.True(t, As(err, &domainErr))
	assert.Contains(t, domainErr.Stack, "TestWithStack")
	assert.Same(t, err, WithStack(err))
}

func TestE(t *testing.T) {
	cause := fmt.Errorf("cause")
	err := E("msg", TransactionDomain, OpSubmitTransaction, TransactionErrExpired, cause)
	assert.True(t, IsTransactionError(err, TransactionErrExpired))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, TransactionErrExpired, CodeOf(err))
	assert.Equal(t, TransactionDomain, DomainOf(err))
}

func TestHTTPStatusFromError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"duplicate nonce":   {NewTransactionError(TransactionErrDuplicateNonce, "", nil), http.StatusConflict},
		"invalid payload":   {NewTransactionError(TransactionErrInvalidPayload, "", nil), http.StatusBadRequest},
		"insufficient":      {NewTransactionError(TransactionErrInsufficientBalance, "", nil), http.StatusUnprocessableEntity},
		"not found":         {NewTransactionError(TransactionErrNotFound, "", nil), http.StatusNotFound},
		"timeout":           {NewTransactionError(TransactionErrWaitTimeout, "", nil), http.StatusGatewayTimeout},
		"storage down":      {NewStorageError(StorageErrConnection, "", nil), http.StatusServiceUnavailable},
		"plain error":       {fmt.Errorf("x"), http.StatusInternalServerError},
		"wrapped duplicate": {fmt.Errorf("outer: %w", NewTransactionError(TransactionErrDuplicateNonce, "", nil)), http.StatusConflict},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusFromError(tc.err))
		})
	}
}

func TestCodeSurvivesUncodedWrap(t *testing.T) {
	inner := NewTransactionError(TransactionErrNotFound, "unknown hash", nil)
	err := TransactionWrap(inner, OpExecuteTransaction, "failed to execute")

	assert.Equal(t, TransactionErrNotFound, CodeOf(err))
	assert.True(t, IsTransactionError(err, TransactionErrNotFound))
	assert.False(t, IsStorageError(err, StorageErrNotFound))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromError(err))
}

func TestQueueErrors(t *testing.T) {
	err := QueueErrorf(OpPublish, QueueErrFull, "queue is at capacity (%d)", 4)
	assert.True(t, IsQueueError(err, QueueErrFull))
	assert.Equal(t, "[queue.Publish] Code=QUEUE_FULL: queue is at capacity (4)", err.Error())
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromError(err))
	assert.Nil(t, QueueWrapWithCode(nil, OpConsume, QueueErrConsume, "x"))
}

func TestCodedPicksOutermostCode(t *testing.T) {
	inner := NewStorageError(StorageErrConnection, "redis down", nil)
	outer := APIWrapWithCode(inner, OpHandleRequest, APIErrServiceUnavailable, "node unavailable")

	coded := Coded(fmt.Errorf("ctx: %w", outer))
	require.NotNil(t, coded)
	assert.Equal(t, APIDomain, coded.Domain)
	assert.True(t, IsStorageError(outer, StorageErrConnection))
	assert.Nil(t, Coded(fmt.Errorf("plain")))
}
