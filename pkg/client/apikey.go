package client

import (
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/cmatc13/orderless/pkg/errors"
)

// NewAPIKey mints an HS256 token the node accepts when authentication is
// enabled. secret must match the node's auth.jwt_secret.
func NewAPIKey(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.NewAPIError(errors.APIErrUnauthorized, "an API key secret is required", nil)
	}
	now := time.Now()
	tok, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", errors.Wrap(err, "failed to build API key")
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign API key")
	}
	return string(signed), nil
}
