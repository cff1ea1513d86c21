package sigkey

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := Generate(2048)
	require.NoError(t, err)
	return kp
}

func TestSignVerify_RoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewRSASigner(kp)
	verifier := NewRSAVerifier(kp.Public())

	payload := []byte("canonical image bytes")

	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	assert.True(t, verifier.Verify(payload, sig))
}

func TestSign_Deterministic(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewRSASigner(kp)

	payload := []byte("same input")
	a, err := signer.Sign(payload)
	require.NoError(t, err)
	b, err := signer.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestVerify_SingleBitFlip(t *testing.T) {
	kp := testKeyPair(t)
	signer := NewRSASigner(kp)
	verifier := NewRSAVerifier(kp.Public())

	payload := []byte("canonical image bytes")
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	mutated := append([]byte{}, payload...)
	mutated[0] ^= 0x01
	assert.False(t, verifier.Verify(mutated, sig))
}

func TestVerify_MalformedSignature(t *testing.T) {
	kp := testKeyPair(t)
	verifier := NewRSAVerifier(kp.Public())

	assert.False(t, verifier.Verify([]byte("payload"), "not base64 at all!!!"))
	assert.False(t, verifier.Verify([]byte("payload"), ""))
	assert.False(t, verifier.Verify([]byte("payload"), base64.StdEncoding.EncodeToString([]byte("short"))))
}

func TestVerify_WrongKey(t *testing.T) {
	signer := NewRSASigner(testKeyPair(t))
	otherVerifier := NewRSAVerifier(testKeyPair(t).Public())

	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.False(t, otherVerifier.Verify([]byte("payload"), sig))
}

func TestParseKeyPair_PEMRoundTrip(t *testing.T) {
	kp := testKeyPair(t)

	privPEM := kp.EncodePrivatePEM()
	pubPEM, err := kp.EncodePublicPEM()
	require.NoError(t, err)

	parsed, err := ParseKeyPair(privPEM, pubPEM)
	require.NoError(t, err)

	sig, err := NewRSASigner(parsed).Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, NewRSAVerifier(kp.Public()).Verify([]byte("payload"), sig))
}

func TestParseKeyPair_Garbage(t *testing.T) {
	_, err := ParseKeyPair([]byte("garbage"), []byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLoadKeyPair_MissingFiles(t *testing.T) {
	_, err := LoadKeyPair("no/such/private.pem", "no/such/public.pem")
	assert.Error(t, err)
}
