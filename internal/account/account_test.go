package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Secp256k1} {
		t.Run(scheme.String(), func(t *testing.T) {
			acct, err := Generate(scheme)
			require.NoError(t, err)
			assert.Equal(t, scheme, acct.Scheme())
			assert.Equal(t, AuthenticationKey(scheme, acct.PublicKey()), acct.Address())

			msg := []byte("transfer 1000000 to 0xcafe")
			sig := acct.Sign(msg)
			require.NoError(t, Verify(scheme, acct.PublicKey(), msg, sig))

			assert.Error(t, Verify(scheme, acct.PublicKey(), []byte("tampered"), sig))

			other, err := Generate(scheme)
			require.NoError(t, err)
			assert.Error(t, Verify(scheme, other.PublicKey(), msg, sig))
		})
	}
}

func TestExportImport(t *testing.T) {
	for _, scheme := range []Scheme{Ed25519, Secp256k1} {
		acct, err := Generate(scheme)
		require.NoError(t, err)

		restored, err := FromPrivateKeyHex(scheme, "0x"+acct.ExportPrivateKey())
		require.NoError(t, err)
		assert.Equal(t, acct.Address(), restored.Address())
		assert.Equal(t, acct.PublicKey(), restored.PublicKey())
	}

	_, err := FromPrivateKeyHex(Ed25519, "zz")
	assert.Error(t, err)
	_, err = FromPrivateKeyHex(Ed25519, "abcd")
	assert.Error(t, err)
	_, err = FromPrivateKeyHex(Scheme(9), "abcd")
	assert.Error(t, err)
}

func TestSchemeSeparatesAddresses(t *testing.T) {
	key := make([]byte, 33)
	assert.NotEqual(t, AuthenticationKey(Ed25519, key), AuthenticationKey(Secp256k1, key))
}

func TestParseScheme(t *testing.T) {
	s, err := ParseScheme("SECP256K1")
	require.NoError(t, err)
	assert.Equal(t, Secp256k1, s)

	s, err = ParseScheme("")
	require.NoError(t, err)
	assert.Equal(t, Ed25519, s)

	_, err = ParseScheme("rsa")
	assert.Error(t, err)

	var parsed Scheme
	require.NoError(t, parsed.UnmarshalText([]byte("secp256k1")))
	assert.Equal(t, Secp256k1, parsed)
}
