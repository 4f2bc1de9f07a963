package client

import (
	"math"
	"time"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
)

// rippleEpoch is the Unix time of 2000-01-01T00:00:00Z, the origin of ledger close times.
const rippleEpoch = 946684800

// ServerInfo is what the server last reported through the ledger and server streams.
type ServerInfo struct {
	LedgerIndex      uint64
	LedgerHash       string
	CloseTime        time.Time
	TxnCount         int
	FeeBase          uint64
	FeeRef           uint64
	ReserveBase      uint64
	ReserveInc       uint64
	ValidatedLedgers string

	ServerStatus string
	LoadFactor   uint64
	LoadBase     uint64

	// Updated is the scheduler time of the last change.
	Updated time.Time
}

// Primed reports whether at least one ledger close has been seen.
func (s ServerInfo) Primed() bool { return s.LedgerIndex != 0 }

// TransactionFee returns the fee, in drops, for a transaction costing units fee units
// at the current load. It returns 0 until fee values are known.
func (s ServerInfo) TransactionFee(units uint64) uint64 {
	if s.FeeRef == 0 || s.FeeBase == 0 {
		return 0
	}
	fee := float64(units) * float64(s.FeeBase) / float64(s.FeeRef)
	if s.LoadBase > 0 && s.LoadFactor > 0 {
		fee = fee * float64(s.LoadFactor) / float64(s.LoadBase)
	}
	return uint64(math.Ceil(fee))
}

func (s *ServerInfo) applyLedger(ev envelope.LedgerClosed) {
	s.LedgerIndex = ev.Index
	s.LedgerHash = ev.Hash
	if ev.CloseTime != 0 {
		s.CloseTime = time.Unix(int64(ev.CloseTime)+rippleEpoch, 0).UTC()
	}
	s.TxnCount = ev.TxnCount
	if ev.FeeBase != 0 {
		s.FeeBase = ev.FeeBase
	}
	if ev.FeeRef != 0 {
		s.FeeRef = ev.FeeRef
	}
	if ev.ReserveBase != 0 {
		s.ReserveBase = ev.ReserveBase
	}
	if ev.ReserveInc != 0 {
		s.ReserveInc = ev.ReserveInc
	}
	if ev.ValidatedLedgers != "" {
		s.ValidatedLedgers = ev.ValidatedLedgers
	}
}

func (s *ServerInfo) applyStatus(ev envelope.ServerStatus) {
	s.ServerStatus = ev.Status
	if ev.LoadFactor != 0 {
		s.LoadFactor = ev.LoadFactor
	}
	if ev.LoadBase != 0 {
		s.LoadBase = ev.LoadBase
	}
}
