// Package sigkey owns the process-wide RSA key material and the
// sign/verify operations over canonical image bytes. The key pair is an
// explicitly constructed, immutable value injected into whoever needs
// it; nothing in this package keeps ambient state.
package sigkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var ErrInvalidKey = errors.New("invalid key material")

// KeyPair holds the signing keys, loaded once at startup and read-only
// for the process lifetime. The private key is never serialized to
// clients.
type KeyPair struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Generate creates a fresh RSA key pair. Used by the keygen tool and
// tests; production servers load PEM files instead.
func Generate(bits int) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{private: key, public: &key.PublicKey}, nil
}

// LoadKeyPair reads and parses PEM-encoded private and public key files.
// A failure here is a fatal startup condition for the server.
func LoadKeyPair(privatePath, publicPath string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	return ParseKeyPair(privPEM, pubPEM)
}

// ParseKeyPair parses PEM-encoded key material. Private keys may be
// PKCS#1 or PKCS#8, public keys PKIX or PKCS#1.
func ParseKeyPair(privPEM, pubPEM []byte) (*KeyPair, error) {
	private, err := parsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	public, err := parsePublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	return &KeyPair{private: private, public: public}, nil
}

// Public returns the verification half of the pair.
func (kp *KeyPair) Public() *rsa.PublicKey {
	return kp.public
}

// EncodePrivatePEM serializes the private key as PKCS#1 PEM.
func (kp *KeyPair) EncodePrivatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.private),
	})
}

// EncodePublicPEM serializes the public key as PKIX PEM.
func (kp *KeyPair) EncodePublicPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.public)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in private key", ErrInvalidKey)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrInvalidKey)
	}
	return key, nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in public key", ErrInvalidKey)
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrInvalidKey)
	}
	return key, nil
}
