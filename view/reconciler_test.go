package view

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

var instance = common.HexToAddress("0x0000000000000000000000000000000000000001")

type fakeReader struct {
	mu     sync.Mutex
	status ledger.Status

	statusErr     error
	valueErr      error
	arbitratorErr error

	reclaimReads int
	depositReads int
}

func (f *fakeReader) Status(ctx context.Context, _ common.Address) (ledger.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeReader) Value(ctx context.Context, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.valueErr != nil {
		return nil, f.valueErr
	}
	return big.NewInt(100), nil
}

func (f *fakeReader) Arbitrator(ctx context.Context, _ common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arbitratorErr != nil {
		return common.Address{}, f.arbitratorErr
	}
	return common.HexToAddress("0x00000000000000000000000000000000000000c3"), nil
}

func (f *fakeReader) RemainingTimeToReclaim(ctx context.Context, _ common.Address) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimReads++
	return 30 * time.Minute, nil
}

func (f *fakeReader) RemainingTimeToDepositArbitrationFee(ctx context.Context, _ common.Address) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depositReads++
	return 10 * time.Minute, nil
}

func TestRefresh_InitialSkipsDepositCountdown(t *testing.T) {
	reader := &fakeReader{status: ledger.StatusInitial}
	snap := NewReconciler(reader).Refresh(context.Background(), instance)

	if !snap.Status.OK() || snap.Status.Value() != ledger.StatusInitial {
		t.Fatalf("unexpected status slot: %+v", snap.Status)
	}
	if !snap.RemainingTimeToReclaim.OK() {
		t.Fatalf("expected reclaim countdown to be read")
	}
	if !snap.RemainingTimeToDepositArbitrationFee.Skipped() {
		t.Fatalf("deposit countdown must be skipped in Initial")
	}
	if reader.depositReads != 0 {
		t.Fatalf("deposit countdown read must not be issued in Initial, got %d reads", reader.depositReads)
	}
}

func TestRefresh_ReclaimedSkipsReclaimCountdown(t *testing.T) {
	reader := &fakeReader{status: ledger.StatusReclaimed}
	snap := NewReconciler(reader).Refresh(context.Background(), instance)

	if !snap.RemainingTimeToDepositArbitrationFee.OK() {
		t.Fatalf("expected deposit countdown to be read")
	}
	if !snap.RemainingTimeToReclaim.Skipped() {
		t.Fatalf("reclaim countdown must be skipped in Reclaimed")
	}
	if reader.reclaimReads != 0 {
		t.Fatalf("reclaim countdown read must not be issued in Reclaimed, got %d reads", reader.reclaimReads)
	}
}

func TestRefresh_ResolvedSkipsBothCountdowns(t *testing.T) {
	reader := &fakeReader{status: ledger.StatusResolved}
	snap := NewReconciler(reader).Refresh(context.Background(), instance)

	if !snap.RemainingTimeToReclaim.Skipped() || !snap.RemainingTimeToDepositArbitrationFee.Skipped() {
		t.Fatalf("countdowns must be skipped once resolved")
	}
	if reader.reclaimReads != 0 || reader.depositReads != 0 {
		t.Fatalf("no countdown reads may be issued once resolved")
	}
}

func TestRefresh_FieldFailureIsolation(t *testing.T) {
	faulted := errors.New("rpc: connection reset")
	reader := &fakeReader{status: ledger.StatusInitial, valueErr: faulted}
	snap := NewReconciler(reader).Refresh(context.Background(), instance)

	if !snap.Status.OK() {
		t.Fatalf("status must survive a value read failure: %v", snap.Status.Err())
	}
	if !snap.Arbitrator.OK() {
		t.Fatalf("arbitrator must survive a value read failure: %v", snap.Arbitrator.Err())
	}
	if !errors.Is(snap.Value.Err(), faulted) {
		t.Fatalf("value slot must carry its error marker, got %v", snap.Value.Err())
	}
	if snap.Value.OK() || snap.Value.Skipped() {
		t.Fatalf("failed value slot must be neither ok nor skipped")
	}
}

func TestRefresh_StatusFailureSkipsGatedReads(t *testing.T) {
	reader := &fakeReader{statusErr: errors.New("rpc: timeout")}
	snap := NewReconciler(reader).Refresh(context.Background(), instance)

	if snap.Status.Err() == nil {
		t.Fatalf("expected status error marker")
	}
	if !snap.Value.OK() || !snap.Arbitrator.OK() {
		t.Fatalf("unconditional reads must still complete")
	}
	if reader.reclaimReads != 0 || reader.depositReads != 0 {
		t.Fatalf("gated reads must not be issued without a known status")
	}
}
