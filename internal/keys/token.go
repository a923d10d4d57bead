package keys

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the only signing algorithm accepted on the wire.
const Algorithm = "RS256"

// Header carries the routing-relevant fields of a token header.
type Header struct {
	KeyID     string
	Algorithm string
}

// Sign produces a compact RS256 token for claims with kid in the header.
func Sign(claims jwt.Claims, priv *rsa.PrivateKey, keyID string) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("%w: no private key", ErrKeyFormat)
	}
	if keyID == "" {
		return "", fmt.Errorf("%w: empty key id", ErrUnsupportedKey)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseUnverified decodes header and claims without checking the signature.
// Callers must still run Verify before trusting anything in claims.
func ParseUnverified(tokenString string, claims jwt.Claims) (Header, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return Header{}, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		return Header{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	header := Header{Algorithm: token.Method.Alg()}
	if kid, ok := token.Header["kid"].(string); ok {
		header.KeyID = kid
	}
	if header.Algorithm != Algorithm {
		return header, fmt.Errorf("%w: algorithm %q", ErrUnsupportedKey, header.Algorithm)
	}
	if header.KeyID == "" {
		return header, fmt.Errorf("%w: missing key id", ErrUnsupportedKey)
	}
	return header, nil
}

// Verify checks the token signature against pub and decodes the payload into
// claims. Only RS256 is accepted.
func Verify(tokenString string, pub *rsa.PublicKey, claims jwt.Claims) error {
	if pub == nil {
		return fmt.Errorf("%w: no public key", ErrKeyFormat)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if alg := unverified.Method.Alg(); alg != Algorithm {
		return fmt.Errorf("%w: algorithm %q", ErrUnsupportedKey, alg)
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{Algorithm}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !token.Valid {
		return ErrSignatureInvalid
	}
	return nil
}
