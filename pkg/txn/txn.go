// Package txn defines the contracts the client uses for transaction signing and
// serialization. The client never implements a signing algorithm or the ledger's
// binary format; callers plug those in.
package txn

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Signer signs serialized transaction bytes.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Verifier checks a signature against a public key.
type Verifier interface {
	Verify(data, signature, publicKey []byte) bool
}

// Fingerprinter derives an account identifier from a public key.
type Fingerprinter interface {
	Fingerprint(publicKey []byte) []byte
}

// SignerFunc adapts a function to Signer.
type SignerFunc func([]byte) ([]byte, error)

func (f SignerFunc) Sign(data []byte) ([]byte, error) { return f(data) }

// Fields is a transaction under construction.
type Fields interface {
	Get(name string) (any, bool)
	Put(name string, value any)
}

// Encoder serializes Fields into the ledger's binary form.
type Encoder func(Fields) ([]byte, error)

// Map is a Fields backed by a map.
type Map map[string]any

func (m Map) Get(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

func (m Map) Put(name string, value any) { m[name] = value }

// Names returns the field names in sorted order.
func (m Map) Names() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const (
	FieldSignature = "TxnSignature"
	FieldPublicKey = "SigningPubKey"
)

var (
	ErrNoSigner  = errors.New("txn: no signer")
	ErrNoEncoder = errors.New("txn: no encoder")
	// ErrBadSignature is returned by Verify for a signature that does not match.
	ErrBadSignature = errors.New("txn: signature does not verify")
)

// Sign encodes fields, signs the encoding and stores the hex signature in
// FieldSignature. It returns the raw signature.
func Sign(fields Fields, encode Encoder, signer Signer) ([]byte, error) {
	if encode == nil {
		return nil, ErrNoEncoder
	}
	if signer == nil {
		return nil, ErrNoSigner
	}
	data, err := encode(fields)
	if err != nil {
		return nil, fmt.Errorf("txn: encode for signing: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("txn: sign: %w", err)
	}
	fields.Put(FieldSignature, strings.ToUpper(hex.EncodeToString(sig)))
	return sig, nil
}

// SubmitParams signs fields and returns the params of a submit request:
// {"tx_blob": <hex of the signed encoding>, "signature": <hex signature>}.
func SubmitParams(fields Fields, encode Encoder, signer Signer) (map[string]any, error) {
	sig, err := Sign(fields, encode, signer)
	if err != nil {
		return nil, err
	}
	blob, err := encode(fields)
	if err != nil {
		return nil, fmt.Errorf("txn: encode signed transaction: %w", err)
	}
	return map[string]any{
		"tx_blob":   strings.ToUpper(hex.EncodeToString(blob)),
		"signature": strings.ToUpper(hex.EncodeToString(sig)),
	}, nil
}

// Verify checks the signature stored in fields against the public key stored in
// FieldPublicKey. The signature field is excluded from the verified encoding.
func Verify(fields Map, encode Encoder, verifier Verifier) error {
	if encode == nil {
		return ErrNoEncoder
	}
	sigHex, ok := fields[FieldSignature].(string)
	if !ok {
		return fmt.Errorf("txn: missing %s", FieldSignature)
	}
	pubHex, ok := fields[FieldPublicKey].(string)
	if !ok {
		return fmt.Errorf("txn: missing %s", FieldPublicKey)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("txn: decode %s: %w", FieldSignature, err)
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return fmt.Errorf("txn: decode %s: %w", FieldPublicKey, err)
	}

	unsigned := make(Map, len(fields))
	for k, v := range fields {
		if k != FieldSignature {
			unsigned[k] = v
		}
	}
	data, err := encode(unsigned)
	if err != nil {
		return fmt.Errorf("txn: encode for verification: %w", err)
	}
	if !verifier.Verify(data, sig, pub) {
		return ErrBadSignature
	}
	return nil
}
