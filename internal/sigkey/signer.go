package sigkey

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
)

// Signer produces detached signatures over canonical image bytes.
// Implementations must be deterministic: signing the same bytes twice
// produces the same signature.
type Signer interface {
	Sign(canonical []byte) (string, error)
}

// Verifier checks detached signatures against canonical image bytes.
type Verifier interface {
	Verify(canonical []byte, signature string) bool
}

// RSASigner signs SHA-256 digests with RSASSA-PKCS1-v1_5 and encodes the
// result with the standard base64 alphabet, no line wrapping.
type RSASigner struct {
	keys *KeyPair
}

func NewRSASigner(keys *KeyPair) *RSASigner {
	return &RSASigner{keys: keys}
}

func (s *RSASigner) Sign(canonical []byte) (string, error) {
	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPKCS1v15(nil, s.keys.private, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// RSAVerifier is the read-only half: it needs only the public key, so
// anonymous verification never touches private material.
type RSAVerifier struct {
	public *rsa.PublicKey
}

func NewRSAVerifier(public *rsa.PublicKey) *RSAVerifier {
	return &RSAVerifier{public: public}
}

// Verify recomputes the SHA-256 digest and checks the signature.
// Malformed base64 and a mismatching signature are both just "false";
// only structurally invalid keys are errors, and those are caught at
// startup, not here.
func (v *RSAVerifier) Verify(canonical []byte, signature string) bool {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(canonical)
	return rsa.VerifyPKCS1v15(v.public, crypto.SHA256, digest[:], raw) == nil
}
