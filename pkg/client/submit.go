package client

import (
	"fmt"

	"github.com/lightforgemedia/go-ledgerclient/pkg/txn"
)

// SubmitCommand is the command that carries a signed transaction.
const SubmitCommand = "submit"

// Submit signs fields with signer over the encoding produced by encode and issues
// a submit request carrying the signed blob. It follows the same connection rules
// as Request. A signing or encoding failure completes the returned handle at once
// and nothing is sent.
func (c *Client) Submit(fields txn.Fields, encode txn.Encoder, signer txn.Signer, opts ...RequestOption) *Pending {
	params, err := txn.SubmitParams(fields, encode, signer)
	if err != nil {
		cfg := requestConfig{}
		for _, opt := range opts {
			opt(&cfg)
		}
		return c.failed(newPending(SubmitCommand), cfg, fmt.Errorf("client: prepare %s: %w", SubmitCommand, err))
	}
	return c.Request(SubmitCommand, params, opts...)
}
