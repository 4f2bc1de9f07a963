package txn

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type edKey struct{ priv ed25519.PrivateKey }

func (k edKey) Sign(data []byte) ([]byte, error) { return ed25519.Sign(k.priv, data), nil }

type edVerifier struct{}

func (edVerifier) Verify(data, sig, pub []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, data, sig)
}

type sha256Fingerprint struct{}

func (sha256Fingerprint) Fingerprint(pub []byte) []byte {
	sum := sha256.Sum256(pub)
	return sum[:20]
}

func jsonEncoder(f Fields) ([]byte, error) { return json.Marshal(f) }

func newKey(t *testing.T) (ed25519.PublicKey, edKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, edKey{priv}
}

func TestSubmitParams(t *testing.T) {
	pub, key := newKey(t)
	fields := Map{
		"TransactionType": "Payment",
		"Account":         hex.EncodeToString(sha256Fingerprint{}.Fingerprint(pub)),
		"Amount":          "1000",
		FieldPublicKey:    strings.ToUpper(hex.EncodeToString(pub)),
	}

	params, err := SubmitParams(fields, jsonEncoder, key)
	require.NoError(t, err)

	blob, err := hex.DecodeString(params["tx_blob"].(string))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(blob, &decoded))
	assert.Equal(t, params["signature"], decoded[FieldSignature], "the blob carries the signature")
	assert.Equal(t, fields[FieldSignature], params["signature"])

	assert.NoError(t, Verify(fields, jsonEncoder, edVerifier{}))

	fields["Amount"] = "2000"
	assert.ErrorIs(t, Verify(fields, jsonEncoder, edVerifier{}), ErrBadSignature)
}

func TestSignErrors(t *testing.T) {
	_, key := newKey(t)

	_, err := SubmitParams(Map{}, nil, key)
	assert.ErrorIs(t, err, ErrNoEncoder)
	_, err = SubmitParams(Map{}, jsonEncoder, nil)
	assert.ErrorIs(t, err, ErrNoSigner)

	boom := errors.New("hsm offline")
	_, err = SubmitParams(Map{}, jsonEncoder, SignerFunc(func([]byte) ([]byte, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)

	encodeErr := errors.New("unknown field")
	_, err = Sign(Map{}, func(Fields) ([]byte, error) { return nil, encodeErr }, key)
	assert.ErrorIs(t, err, encodeErr)
}

func TestVerifyMissingFields(t *testing.T) {
	err := Verify(Map{}, jsonEncoder, edVerifier{})
	assert.ErrorContains(t, err, FieldSignature)

	err = Verify(Map{FieldSignature: "00"}, jsonEncoder, edVerifier{})
	assert.ErrorContains(t, err, FieldPublicKey)

	err = Verify(Map{FieldSignature: "zz", FieldPublicKey: "00"}, jsonEncoder, edVerifier{})
	assert.Error(t, err)
}

func TestMapNames(t *testing.T) {
	m := Map{}
	m.Put("b", 1)
	m.Put("a", 2)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{"a", "b"}, m.Names())
}
