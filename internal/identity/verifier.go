// Package identity validates the opaque credential a connection presents and
// turns it into verified identity claims. Credential issuance lives outside
// this service; the verifier only checks signatures and expiry.
package identity

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the validated identity fields extracted from a credential.
type Claims struct {
	Subject         string
	Login           string
	DisplayName     string
	ProfileImageURL string
	ExpiresAt       time.Time
}

// Verifier turns a credential into claims. A false return means the
// credential is absent, malformed, expired, or wrongly signed; connections
// proceed anonymous in that case.
type Verifier interface {
	Verify(credential string) (Claims, bool)
}

type tokenClaims struct {
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256-signed identity tokens against a shared
// secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier constructs a verifier for the given shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify implements Verifier.
func (v *HMACVerifier) Verify(credential string) (Claims, bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" || len(v.secret) == 0 {
		return Claims{}, false
	}
	parsed, err := jwt.ParseWithClaims(credential, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Login == "" {
		return Claims{}, false
	}
	out := Claims{
		Subject:         claims.Subject,
		Login:           claims.Login,
		DisplayName:     claims.DisplayName,
		ProfileImageURL: claims.ProfileImageURL,
	}
	if out.DisplayName == "" {
		out.DisplayName = claims.Login
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, true
}

// Sign issues a token for the given claims. Used by tooling and tests; the
// production issuer is an external service sharing the same secret.
func (v *HMACVerifier) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Login:           claims.Login,
		DisplayName:     claims.DisplayName,
		ProfileImageURL: claims.ProfileImageURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token.SignedString(v.secret)
}
