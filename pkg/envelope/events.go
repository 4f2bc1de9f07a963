package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stream names a push-event stream the client can subscribe to.
type Stream string

// Well-known streams.
const (
	StreamLedger       Stream = "ledger"
	StreamTransactions Stream = "transactions"
	StreamServer       Stream = "server"
)

// Push-event kinds, as carried in Envelope.Type.
const (
	KindLedgerClosed = "ledgerClosed"
	KindTransaction  = "transaction"
	KindServerStatus = "serverStatus"
)

// Event is a decoded push event. Concrete types: LedgerClosed, TransactionEvent,
// ServerStatus and Unknown.
type Event interface {
	Kind() string
	Stream() Stream
}

// LedgerClosed announces a newly closed ledger.
type LedgerClosed struct {
	Index            uint64 `json:"index"`
	Hash             string `json:"hash,omitempty"`
	CloseTime        uint64 `json:"close_time,omitempty"`
	TxnCount         int    `json:"txn_count"`
	FeeBase          uint64 `json:"fee_base,omitempty"`
	FeeRef           uint64 `json:"fee_ref,omitempty"`
	ReserveBase      uint64 `json:"reserve_base,omitempty"`
	ReserveInc       uint64 `json:"reserve_inc,omitempty"`
	ValidatedLedgers string `json:"validated_ledgers,omitempty"`
}

func (LedgerClosed) Kind() string   { return KindLedgerClosed }
func (LedgerClosed) Stream() Stream { return StreamLedger }

// TransactionEvent reports a transaction seen by the server.
type TransactionEvent struct {
	Hash         string          `json:"hash"`
	Validated    bool            `json:"validated"`
	LedgerIndex  uint64          `json:"ledger_index,omitempty"`
	EngineResult string          `json:"engine_result,omitempty"`
	Transaction  json.RawMessage `json:"transaction,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
}

func (TransactionEvent) Kind() string   { return KindTransaction }
func (TransactionEvent) Stream() Stream { return StreamTransactions }

// ServerStatus reports a change of the server's load or sync status.
type ServerStatus struct {
	Status     string `json:"server_status"`
	LoadFactor uint64 `json:"load_factor,omitempty"`
	LoadBase   uint64 `json:"load_base,omitempty"`
}

func (ServerStatus) Kind() string   { return KindServerStatus }
func (ServerStatus) Stream() Stream { return StreamServer }

// Unknown is any push event of a kind this package does not model. It is routed to
// the stream named after its kind.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) Kind() string   { return u.Type }
func (u Unknown) Stream() Stream { return Stream(u.Type) }

// ErrNotEvent is returned by DecodeEvent for envelopes that are not push events.
var ErrNotEvent = errors.New("envelope: not a push event")

// DecodeEvent converts a push-event envelope into its typed variant.
func DecodeEvent(env *Envelope) (Event, error) {
	if env == nil || env.IsResponse() || env.Type == TypeRequest || env.Type == "" {
		return nil, ErrNotEvent
	}
	switch env.Type {
	case KindLedgerClosed:
		var ev LedgerClosed
		if err := env.DecodePayload(&ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ev, nil
	case KindTransaction:
		var ev TransactionEvent
		if err := env.DecodePayload(&ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ev, nil
	case KindServerStatus:
		var ev ServerStatus
		if err := env.DecodePayload(&ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return ev, nil
	default:
		return Unknown{Type: env.Type, Raw: env.Payload}, nil
	}
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(ev Event) (*Envelope, error) {
	if u, ok := ev.(Unknown); ok {
		return &Envelope{Type: u.Type, Payload: u.Raw}, nil
	}
	return NewEvent(ev.Kind(), ev)
}
