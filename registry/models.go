package registry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// Record mirrors the escrow_instances table. It is the off-ledger journal of
// a deployed escrow: the ledger remains the source of truth for status and
// funds, the record remembers who opened it and where its descriptor lives.
type Record struct {
	ID                string
	OwnerUserID       string
	Address           common.Address
	Payer             common.Address
	Payee             common.Address
	Arbitrator        common.Address
	Amount            *big.Int
	Status            ledger.Status
	DescriptorLocator string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EvidenceEntry mirrors the evidence_journal table. Entries are written after
// each evidence submission attempt, including partial failures, so orphaned
// locators stay discoverable.
type EvidenceEntry struct {
	ID             string
	InstanceID     string
	SubmittedBy    common.Address
	Name           string
	Description    string
	PayloadLocator string
	RecordLocator  string
	Linked         bool
	FailedStep     string
	CreatedAt      time.Time
}
