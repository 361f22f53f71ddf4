// Package auth turns the service-account credential into a bearer token for
// the delivery API: an RS256-signed assertion is exchanged through the OAuth2
// JWT-bearer grant.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/errs"

	"github.com/KodeKenobi/nusuru-admin/internal/credentials"
)

// ErrSigning marks a credential that could not produce a signed assertion.
var ErrSigning = errs.Class("signing")

// AssertionLifetime is how long a signed assertion stays valid.
const AssertionLifetime = time.Hour

// Signer builds signed assertions for the OAuth2 token endpoint.
type Signer struct {
	audience string
	scope    string
}

// NewSigner returns a Signer for the given token endpoint and scope.
func NewSigner(audience, scope string) *Signer {
	return &Signer{audience: audience, scope: scope}
}

// Sign returns a compact RS256 JWT asserting cred's identity, issued at now.
// The key is decoded on every call, so nothing is cached between signatures.
func (s *Signer) Sign(cred credentials.ServiceAccountCredential, now time.Time) (string, error) {
	key, err := credentials.ParsePrivateKey(cred.PrivateKeyPEM)
	if err != nil {
		return "", ErrSigning.Wrap(err)
	}

	iat := now.Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   cred.ClientEmail,
		"sub":   cred.ClientEmail,
		"aud":   s.audience,
		"iat":   iat,
		"exp":   iat + int64(AssertionLifetime/time.Second),
		"scope": s.scope,
	})
	token.Header["kid"] = cred.PrivateKeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return "", ErrSigning.Wrap(err)
	}
	return signed, nil
}
