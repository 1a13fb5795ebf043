package timeoracle

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockOracle(t *testing.T) (*clock.Mock, *StandardTimeOracle) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	o, err := NewWithClock(mock, Config{ExpirationWindow: 60 * time.Second, Retention: 60 * time.Second})
	require.NoError(t, err)
	return mock, o
}

func TestValidateExpiration(t *testing.T) {
	mock, o := newMockOracle(t)
	now := uint64(mock.Now().Unix())

	assert.NoError(t, o.ValidateExpiration(now+1))
	assert.NoError(t, o.ValidateExpiration(now+60))
	assert.ErrorIs(t, o.ValidateExpiration(now), ErrExpired)
	assert.ErrorIs(t, o.ValidateExpiration(now-10), ErrExpired)
	assert.ErrorIs(t, o.ValidateExpiration(now+61), ErrExpirationTooFar)

	mock.Add(30 * time.Second)
	assert.NoError(t, o.ValidateExpiration(now+90))
	assert.ErrorIs(t, o.ValidateExpiration(now+20), ErrExpired)
}

func TestRetentionTTL(t *testing.T) {
	mock, o := newMockOracle(t)
	now := uint64(mock.Now().Unix())

	assert.Equal(t, 90*time.Second, o.RetentionTTL(now+30))
	assert.Equal(t, 60*time.Second, o.RetentionTTL(now-5))
}

func TestProofs(t *testing.T) {
	mock, o := newMockOracle(t)

	proof, err := o.GenerateProof()
	require.NoError(t, err)
	assert.Equal(t, mock.Now().Unix(), proof.Timestamp)
	require.NoError(t, o.VerifyProof(proof))

	forged := *proof
	forged.Nonce++
	assert.ErrorIs(t, o.VerifyProof(&forged), ErrInvalidProof)
	assert.Error(t, o.VerifyProof(nil))

	mock.Add(25 * time.Hour)
	assert.ErrorIs(t, o.VerifyProof(proof), ErrExpiredProof)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{ExpirationWindow: time.Second, Secret: []byte("short")})
	assert.Error(t, err)
}
