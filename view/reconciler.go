package view

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// Reader is the read slice of the contract binding the reconciler consumes.
type Reader interface {
	Status(ctx context.Context, instance common.Address) (ledger.Status, error)
	Value(ctx context.Context, instance common.Address) (*big.Int, error)
	Arbitrator(ctx context.Context, instance common.Address) (common.Address, error)
	RemainingTimeToReclaim(ctx context.Context, instance common.Address) (time.Duration, error)
	RemainingTimeToDepositArbitrationFee(ctx context.Context, instance common.Address) (time.Duration, error)
}

// Reconciler rebuilds snapshots from independent field reads.
type Reconciler struct {
	reader Reader
}

func NewReconciler(reader Reader) *Reconciler {
	return &Reconciler{reader: reader}
}

// Refresh reads status, value and arbitrator unconditionally and concurrently,
// then issues whichever countdown read applies to the freshly read status.
// Reads for fields inapplicable to the status are skipped, not errored. Every
// outstanding read is awaited; Refresh never fails, it returns a complete
// snapshot where each field is a value, an error marker, or skipped.
func (r *Reconciler) Refresh(ctx context.Context, instance common.Address) Snapshot {
	var snap Snapshot

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if v, err := r.reader.Status(ctx, instance); err != nil {
			snap.Status = FieldErr[ledger.Status](err)
		} else {
			snap.Status = FieldOf(v)
		}
	}()
	go func() {
		defer wg.Done()
		if v, err := r.reader.Value(ctx, instance); err != nil {
			snap.Value = FieldErr[*big.Int](err)
		} else {
			snap.Value = FieldOf(v)
		}
	}()
	go func() {
		defer wg.Done()
		if v, err := r.reader.Arbitrator(ctx, instance); err != nil {
			snap.Arbitrator = FieldErr[common.Address](err)
		} else {
			snap.Arbitrator = FieldOf(v)
		}
	}()
	wg.Wait()

	if !snap.Status.OK() {
		return snap
	}

	switch snap.Status.Value() {
	case ledger.StatusInitial:
		if v, err := r.reader.RemainingTimeToReclaim(ctx, instance); err != nil {
			snap.RemainingTimeToReclaim = FieldErr[time.Duration](err)
		} else {
			snap.RemainingTimeToReclaim = FieldOf(v)
		}
	case ledger.StatusReclaimed:
		if v, err := r.reader.RemainingTimeToDepositArbitrationFee(ctx, instance); err != nil {
			snap.RemainingTimeToDepositArbitrationFee = FieldErr[time.Duration](err)
		} else {
			snap.RemainingTimeToDepositArbitrationFee = FieldOf(v)
		}
	}

	return snap
}
