package client

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonFields(f txn.Fields) ([]byte, error) { return json.Marshal(f) }

func TestSubmitSendsSignedBlob(t *testing.T) {
	c, p := newTestClient(t)
	connect(t, c, p)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := txn.SignerFunc(func(data []byte) ([]byte, error) { return ed25519.Sign(priv, data), nil })
	fields := txn.Map{
		"TransactionType":  "Payment",
		"Amount":           "1000",
		txn.FieldPublicKey: hex.EncodeToString(pub),
	}

	pending := c.Submit(fields, jsonFields, signer)
	sent := p.Transport.LastCommand(SubmitCommand)
	require.NotNil(t, sent)

	var params struct {
		TxBlob    string `json:"tx_blob"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(sent.Payload, &params))
	blob, err := hex.DecodeString(params.TxBlob)
	require.NoError(t, err)

	var onWire txn.Map
	require.NoError(t, json.Unmarshal(blob, &onWire))
	assert.Equal(t, params.Signature, onWire[txn.FieldSignature])
	assert.NoError(t, txn.Verify(onWire, jsonFields, ed25519Verifier{}))

	p.Transport.Respond(sent, envelope.StatusSuccess, map[string]string{"engine_result": "tesSUCCESS"})
	res, err := pending.Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"engine_result":"tesSUCCESS"}`, string(res))
}

func TestSubmitSigningFailureSendsNothing(t *testing.T) {
	c, p := newTestClient(t)
	connect(t, c, p)

	var called error
	refused := txn.SignerFunc(func([]byte) ([]byte, error) { return nil, errors.New("key locked") })
	pending := c.Submit(txn.Map{"Amount": "1"}, jsonFields, refused,
		WithCallback(func(_ json.RawMessage, err error) { called = err }))

	_, err := pending.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key locked")
	assert.Equal(t, err, called)
	assert.Nil(t, p.Transport.LastCommand(SubmitCommand))

	_, err = c.Submit(txn.Map{}, nil, refused).Result()
	assert.ErrorIs(t, err, txn.ErrNoEncoder)
}

type ed25519Verifier struct{}

func (ed25519Verifier) Verify(data, sig, pub []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, data, sig)
}
