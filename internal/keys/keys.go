/**
 * @description
 * Package keys holds the bank's signing key material: RSA key generation,
 * PEM serialization, RS256 token signing and verification, and the JWK/JWKS
 * wire format used by counterparties to discover verification keys.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: RS256 signing and parsing.
 */

package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeySize is the modulus length of generated bank keys.
const KeySize = 2048

var (
	ErrKeyFormat        = errors.New("malformed key material")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrUnsupportedKey   = errors.New("unsupported key or algorithm")
)

// KeyPair is the bank's RSA signing key pair.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA-2048 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// PrivatePEM encodes the private key as a PKCS#8 "PRIVATE KEY" block.
func (kp *KeyPair) PrivatePEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// PublicPEM encodes the public key as a PKIX "PUBLIC KEY" block.
func (kp *KeyPair) PublicPEM() (string, error) {
	return EncodePublicKeyPEM(kp.Public)
}

func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePrivateKeyPEM accepts PKCS#8 and PKCS#1 encoded RSA private keys.
func ParsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyFormat)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private key is %T, not RSA", ErrUnsupportedKey, key)
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return rsaKey, nil
}

// ParsePublicKeyPEM accepts PKIX and PKCS#1 encoded RSA public keys.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyFormat)
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrUnsupportedKey, key)
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return rsaKey, nil
}

// ParseKeyPairPEM rebuilds a key pair from its stored private key. The public
// PEM, when given, must match the private key.
func ParseKeyPairPEM(privatePEM, publicPEM string) (*KeyPair, error) {
	priv, err := ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Private: priv, Public: &priv.PublicKey}
	if publicPEM == "" {
		return kp, nil
	}

	pub, err := ParsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(kp.Public) {
		return nil, fmt.Errorf("%w: stored public key does not match private key", ErrKeyFormat)
	}
	return kp, nil
}
