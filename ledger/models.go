package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status mirrors the escrow contract's status enum.
type Status int

const (
	StatusInitial Status = iota
	StatusReclaimed
	StatusDisputed
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusReclaimed:
		return "reclaimed"
	case StatusDisputed:
		return "disputed"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Instance is the client-side record of a deployed escrow contract. The
// authoritative state lives on the ledger; fields here are fixed at deployment.
type Instance struct {
	Address                     common.Address
	Payer                       common.Address
	Payee                       common.Address
	Arbitrator                  common.Address
	Amount                      *big.Int
	CreatedAt                   time.Time
	ReclamationPeriod           time.Duration
	ArbitrationFeeDepositPeriod time.Duration
	DescriptorLocator           string
}

// Receipt confirms that a state-changing send has taken effect. Callers must
// not assume a send landed until they hold one.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	MinedAt     time.Time
}

// Ruling identifiers as the arbitrator reports them.
const (
	RulingRefused     = 0
	RulingRefundPayer = 1
	RulingPayPayee    = 2
)
