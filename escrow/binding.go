package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// ErrEvidenceNotSupported signals the bound contract variant predates the
// evidence-exchange protocol and cannot link evidence records.
var ErrEvidenceNotSupported = errors.New("escrow: contract does not support evidence exchange")

// Binding is the typed surface of one deployed escrow contract variant. Two
// variants exist in the wild: the original contract and the evidence-exchange
// revision; they share everything except evidence support.
type Binding interface {
	SupportsEvidenceExchange() bool

	Reclaim(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	Release(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	DepositArbitrationFee(ctx context.Context, instance, from common.Address, value *big.Int) (ledger.Receipt, error)
	Timeout(ctx context.Context, instance, from common.Address) (ledger.Receipt, error)
	SubmitEvidence(ctx context.Context, instance, from common.Address, locator string) (ledger.Receipt, error)

	Status(ctx context.Context, instance common.Address) (ledger.Status, error)
	Value(ctx context.Context, instance common.Address) (*big.Int, error)
	Arbitrator(ctx context.Context, instance common.Address) (common.Address, error)
	Payer(ctx context.Context, instance common.Address) (common.Address, error)
	Payee(ctx context.Context, instance common.Address) (common.Address, error)
	RemainingTimeToReclaim(ctx context.Context, instance common.Address) (time.Duration, error)
	RemainingTimeToDepositArbitrationFee(ctx context.Context, instance common.Address) (time.Duration, error)
}

// NewBinding wraps a gateway in the appropriate contract binding.
func NewBinding(gw ledger.Gateway, withEvidence bool) Binding {
	if withEvidence {
		return &evidenceBinding{baseBinding{gw: gw}}
	}
	return &legacyBinding{baseBinding{gw: gw}}
}

type baseBinding struct {
	gw ledger.Gateway
}

func (b *baseBinding) Reclaim(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return b.gw.Send(ctx, instance, "reclaimFunds", from, nil)
}

func (b *baseBinding) Release(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return b.gw.Send(ctx, instance, "releaseFunds", from, nil)
}

func (b *baseBinding) DepositArbitrationFee(ctx context.Context, instance, from common.Address, value *big.Int) (ledger.Receipt, error) {
	return b.gw.Send(ctx, instance, "depositArbitrationFeeForPayee", from, value)
}

func (b *baseBinding) Timeout(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return b.gw.Send(ctx, instance, "timeOut", from, nil)
}

func (b *baseBinding) Status(ctx context.Context, instance common.Address) (ledger.Status, error) {
	return callAs[ledger.Status](ctx, b.gw, instance, "status")
}

func (b *baseBinding) Value(ctx context.Context, instance common.Address) (*big.Int, error) {
	return callAs[*big.Int](ctx, b.gw, instance, "value")
}

func (b *baseBinding) Arbitrator(ctx context.Context, instance common.Address) (common.Address, error) {
	return callAs[common.Address](ctx, b.gw, instance, "arbitrator")
}

func (b *baseBinding) Payer(ctx context.Context, instance common.Address) (common.Address, error) {
	return callAs[common.Address](ctx, b.gw, instance, "payer")
}

func (b *baseBinding) Payee(ctx context.Context, instance common.Address) (common.Address, error) {
	return callAs[common.Address](ctx, b.gw, instance, "payee")
}

func (b *baseBinding) RemainingTimeToReclaim(ctx context.Context, instance common.Address) (time.Duration, error) {
	return callAs[time.Duration](ctx, b.gw, instance, "remainingTimeToReclaim")
}

func (b *baseBinding) RemainingTimeToDepositArbitrationFee(ctx context.Context, instance common.Address) (time.Duration, error) {
	return callAs[time.Duration](ctx, b.gw, instance, "remainingTimeToDepositArbitrationFee")
}

func callAs[T any](ctx context.Context, gw ledger.Gateway, instance common.Address, method string) (T, error) {
	var zero T
	v, err := gw.Call(ctx, instance, method)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("escrow: %s returned unexpected type %T", method, v)
	}
	return typed, nil
}

// evidenceBinding targets the evidence-exchange contract revision.
type evidenceBinding struct {
	baseBinding
}

func (b *evidenceBinding) SupportsEvidenceExchange() bool { return true }

func (b *evidenceBinding) SubmitEvidence(ctx context.Context, instance, from common.Address, locator string) (ledger.Receipt, error) {
	return b.gw.Send(ctx, instance, "submitEvidence", from, nil, locator)
}

// legacyBinding targets the original contract, which records no evidence.
type legacyBinding struct {
	baseBinding
}

func (b *legacyBinding) SupportsEvidenceExchange() bool { return false }

func (b *legacyBinding) SubmitEvidence(ctx context.Context, instance, from common.Address, locator string) (ledger.Receipt, error) {
	return ledger.Receipt{}, ErrEvidenceNotSupported
}
