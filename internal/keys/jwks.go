package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
)

// JWK is a single RSA verification key in RFC 7517 form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the published key set served at the key discovery endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Find returns the key with the given kid.
func (s JWKS) Find(kid string) (JWK, bool) {
	for _, key := range s.Keys {
		if key.Kid == kid {
			return key, true
		}
	}
	return JWK{}, false
}

// PublicKeyToJWKS encodes pub as a one-key set. Modulus and exponent are
// unsigned big-endian integers in unpadded base64url.
func PublicKeyToJWKS(pub *rsa.PublicKey, keyID string) JWKS {
	return JWKS{Keys: []JWK{PublicKeyToJWK(pub, keyID)}}
}

func PublicKeyToJWK(pub *rsa.PublicKey, keyID string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: keyID,
		Alg: Algorithm,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// JWKToPublicKey is the inverse of PublicKeyToJWK.
func JWKToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("%w: key type %q", ErrUnsupportedKey, jwk.Kty)
	}
	if jwk.Alg != "" && jwk.Alg != Algorithm {
		return nil, fmt.Errorf("%w: algorithm %q", ErrUnsupportedKey, jwk.Alg)
	}
	if jwk.Use != "" && jwk.Use != "sig" {
		return nil, fmt.Errorf("%w: key use %q", ErrUnsupportedKey, jwk.Use)
	}
	if jwk.N == "" || jwk.E == "" {
		return nil, fmt.Errorf("%w: missing modulus or exponent", ErrKeyFormat)
	}

	nb, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode modulus: %v", ErrKeyFormat, err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode exponent: %v", ErrKeyFormat, err)
	}

	n := new(big.Int).SetBytes(nb)
	e := new(big.Int).SetBytes(eb)
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty modulus", ErrKeyFormat)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > math.MaxInt32 {
		return nil, fmt.Errorf("%w: exponent out of range", ErrKeyFormat)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
