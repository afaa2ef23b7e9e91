// Package simledger is an in-memory ledger backend implementing the escrow
// contract state machine and a centralized arbitrator. It backs local
// development and tests; the escrow packages only ever see the ledger.Gateway
// interface, so a real node gateway can replace it without touching them.
package simledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// Payout records a terminal transfer out of an escrow instance.
type Payout struct {
	To     common.Address
	Amount *big.Int
}

type escrowState struct {
	inst        ledger.Instance
	status      ledger.Status
	reclaimedAt time.Time
	disputeID   uint64
	evidence    []string
	payouts     []Payout
}

type arbitratorState struct {
	owner       common.Address
	cost        *big.Int
	feesHeld    *big.Int
	nextDispute uint64
	disputes    map[uint64]common.Address
}

// Ledger is safe for concurrent use. Every mutation is attributed to a caller
// identity and validated against the role and time gates the real contract
// enforces.
type Ledger struct {
	mu          sync.Mutex
	now         func() time.Time
	seq         uint64
	escrows     map[common.Address]*escrowState
	arbitrators map[common.Address]*arbitratorState
}

func New() *Ledger {
	return &Ledger{
		now:         time.Now,
		escrows:     make(map[common.Address]*escrowState),
		arbitrators: make(map[common.Address]*arbitratorState),
	}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// RegisterArbitrator installs a centralized arbitrator contract owned by owner
// that quotes cost per dispute.
func (l *Ledger) RegisterArbitrator(addr, owner common.Address, cost *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arbitrators[addr] = &arbitratorState{
		owner:    owner,
		cost:     new(big.Int).Set(cost),
		feesHeld: new(big.Int),
		disputes: make(map[uint64]common.Address),
	}
}

// SetArbitrationPrice reprices an arbitrator. Quotes taken before the change
// become stale.
func (l *Ledger) SetArbitrationPrice(addr common.Address, cost *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.arbitrators[addr]
	if !ok {
		return fmt.Errorf("%w: arbitrator %s", ledger.ErrNotFound, addr.Hex())
	}
	a.cost = new(big.Int).Set(cost)
	return nil
}

func (l *Ledger) Deploy(ctx context.Context, params ledger.DeployParams) (ledger.Instance, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Instance{}, fmt.Errorf("%w: %v", ledger.ErrTransport, err)
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return ledger.Instance{}, fmt.Errorf("ledger: deploy: amount must be positive")
	}
	if params.DescriptorLocator == "" {
		return ledger.Instance{}, fmt.Errorf("ledger: deploy: descriptor locator required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.arbitrators[params.Arbitrator]; !ok {
		return ledger.Instance{}, fmt.Errorf("%w: arbitrator %s", ledger.ErrNotFound, params.Arbitrator.Hex())
	}

	l.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.seq)
	addr := common.BytesToAddress(buf[:])

	inst := ledger.Instance{
		Address:                     addr,
		Payer:                       params.Payer,
		Payee:                       params.Payee,
		Arbitrator:                  params.Arbitrator,
		Amount:                      new(big.Int).Set(params.Amount),
		CreatedAt:                   l.now(),
		ReclamationPeriod:           params.ReclamationPeriod,
		ArbitrationFeeDepositPeriod: params.ArbitrationFeeDepositPeriod,
		DescriptorLocator:           params.DescriptorLocator,
	}
	l.escrows[addr] = &escrowState{inst: inst, status: ledger.StatusInitial}
	return inst, nil
}

func (l *Ledger) Call(ctx context.Context, instance common.Address, method string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrTransport, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[instance]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, instance.Hex())
	}

	switch method {
	case "status":
		return e.status, nil
	case "value":
		return new(big.Int).Set(e.inst.Amount), nil
	case "payer":
		return e.inst.Payer, nil
	case "payee":
		return e.inst.Payee, nil
	case "arbitrator":
		return e.inst.Arbitrator, nil
	case "createdAt":
		return e.inst.CreatedAt, nil
	case "reclamationPeriod":
		return e.inst.ReclamationPeriod, nil
	case "arbitrationFeeDepositPeriod":
		return e.inst.ArbitrationFeeDepositPeriod, nil
	case "remainingTimeToReclaim":
		if e.status != ledger.StatusInitial {
			return nil, fmt.Errorf("%w: remainingTimeToReclaim outside Initial", ledger.ErrInvalidTransition)
		}
		return remaining(e.inst.CreatedAt, e.inst.ReclamationPeriod, l.now()), nil
	case "remainingTimeToDepositArbitrationFee":
		if e.status != ledger.StatusReclaimed {
			return nil, fmt.Errorf("%w: remainingTimeToDepositArbitrationFee outside Reclaimed", ledger.ErrInvalidTransition)
		}
		return remaining(e.reclaimedAt, e.inst.ArbitrationFeeDepositPeriod, l.now()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownMethod, method)
	}
}

func (l *Ledger) Send(ctx context.Context, instance common.Address, method string, from common.Address, value *big.Int, args ...any) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, fmt.Errorf("%w: %v", ledger.ErrTransport, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.arbitrators[instance]; ok {
		return l.sendArbitrator(a, method, from, args)
	}

	e, ok := l.escrows[instance]
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, instance.Hex())
	}

	switch method {
	case "reclaimFunds":
		if from != e.inst.Payer {
			return ledger.Receipt{}, fmt.Errorf("%w: reclaimFunds is payer-only", ledger.ErrUnauthorized)
		}
		if e.status != ledger.StatusInitial {
			return ledger.Receipt{}, fmt.Errorf("%w: reclaimFunds in %s", ledger.ErrInvalidTransition, e.status)
		}
		e.status = ledger.StatusReclaimed
		e.reclaimedAt = l.now()

	case "releaseFunds":
		if e.status != ledger.StatusInitial {
			return ledger.Receipt{}, fmt.Errorf("%w: releaseFunds in %s", ledger.ErrInvalidTransition, e.status)
		}
		switch from {
		case e.inst.Payer:
			// payer may concede at any time
		case e.inst.Payee:
			if l.now().Before(e.inst.CreatedAt.Add(e.inst.ReclamationPeriod)) {
				return ledger.Receipt{}, fmt.Errorf("%w: payee release before reclamation period elapsed", ledger.ErrInvalidTransition)
			}
		default:
			return ledger.Receipt{}, fmt.Errorf("%w: releaseFunds restricted to parties", ledger.ErrUnauthorized)
		}
		l.resolve(e, Payout{To: e.inst.Payee, Amount: new(big.Int).Set(e.inst.Amount)})

	case "depositArbitrationFeeForPayee":
		if from != e.inst.Payee {
			return ledger.Receipt{}, fmt.Errorf("%w: fee deposit is payee-only", ledger.ErrUnauthorized)
		}
		if e.status != ledger.StatusReclaimed {
			return ledger.Receipt{}, fmt.Errorf("%w: fee deposit in %s", ledger.ErrInvalidTransition, e.status)
		}
		if !l.now().Before(e.reclaimedAt.Add(e.inst.ArbitrationFeeDepositPeriod)) {
			return ledger.Receipt{}, fmt.Errorf("%w: fee deposit window elapsed", ledger.ErrInvalidTransition)
		}
		a := l.arbitrators[e.inst.Arbitrator]
		if value == nil || value.Cmp(a.cost) < 0 {
			return ledger.Receipt{}, fmt.Errorf("%w: attached %s below current cost %s", ledger.ErrStaleQuote, bigString(value), a.cost)
		}
		a.feesHeld.Add(a.feesHeld, value)
		a.nextDispute++
		a.disputes[a.nextDispute] = e.inst.Address
		e.disputeID = a.nextDispute
		e.status = ledger.StatusDisputed

	case "timeOut":
		if e.status != ledger.StatusReclaimed {
			return ledger.Receipt{}, fmt.Errorf("%w: timeOut in %s", ledger.ErrInvalidTransition, e.status)
		}
		if l.now().Before(e.reclaimedAt.Add(e.inst.ArbitrationFeeDepositPeriod)) {
			return ledger.Receipt{}, fmt.Errorf("%w: fee deposit window still open", ledger.ErrInvalidTransition)
		}
		l.resolve(e, Payout{To: e.inst.Payer, Amount: new(big.Int).Set(e.inst.Amount)})

	case "submitEvidence":
		if from != e.inst.Payer && from != e.inst.Payee {
			return ledger.Receipt{}, fmt.Errorf("%w: evidence restricted to parties", ledger.ErrUnauthorized)
		}
		if e.status == ledger.StatusResolved {
			return ledger.Receipt{}, fmt.Errorf("%w: evidence after resolution", ledger.ErrInvalidTransition)
		}
		if len(args) != 1 {
			return ledger.Receipt{}, fmt.Errorf("ledger: submitEvidence expects one locator argument")
		}
		locator, ok := args[0].(string)
		if !ok || locator == "" {
			return ledger.Receipt{}, fmt.Errorf("ledger: submitEvidence locator must be a non-empty string")
		}
		e.evidence = append(e.evidence, locator)

	default:
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ledger.ErrUnknownMethod, method)
	}

	return l.receipt(), nil
}

func (l *Ledger) sendArbitrator(a *arbitratorState, method string, from common.Address, args []any) (ledger.Receipt, error) {
	switch method {
	case "giveRuling":
		if from != a.owner {
			return ledger.Receipt{}, fmt.Errorf("%w: giveRuling is owner-only", ledger.ErrUnauthorized)
		}
		if len(args) != 2 {
			return ledger.Receipt{}, fmt.Errorf("ledger: giveRuling expects dispute id and ruling")
		}
		disputeID, ok := args[0].(uint64)
		if !ok {
			return ledger.Receipt{}, fmt.Errorf("ledger: giveRuling dispute id must be uint64")
		}
		ruling, ok := args[1].(int)
		if !ok {
			return ledger.Receipt{}, fmt.Errorf("ledger: giveRuling ruling must be int")
		}
		target, ok := a.disputes[disputeID]
		if !ok {
			return ledger.Receipt{}, fmt.Errorf("%w: dispute %d", ledger.ErrNotFound, disputeID)
		}
		e := l.escrows[target]
		if e.status != ledger.StatusDisputed {
			return ledger.Receipt{}, fmt.Errorf("%w: ruling in %s", ledger.ErrInvalidTransition, e.status)
		}
		l.rule(e, ruling)
	default:
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ledger.ErrUnknownMethod, method)
	}
	return l.receipt(), nil
}

func (l *Ledger) rule(e *escrowState, ruling int) {
	amount := e.inst.Amount
	switch ruling {
	case ledger.RulingRefundPayer:
		l.resolve(e, Payout{To: e.inst.Payer, Amount: new(big.Int).Set(amount)})
	case ledger.RulingPayPayee:
		l.resolve(e, Payout{To: e.inst.Payee, Amount: new(big.Int).Set(amount)})
	default:
		// refused to arbitrate: split, payee takes the odd unit
		half := new(big.Int).Rsh(amount, 1)
		rest := new(big.Int).Sub(amount, half)
		l.resolve(e,
			Payout{To: e.inst.Payer, Amount: half},
			Payout{To: e.inst.Payee, Amount: rest},
		)
	}
}

// resolve is the single place funds leave an instance; the terminal state is
// permanent so the amount can never move twice.
func (l *Ledger) resolve(e *escrowState, payouts ...Payout) {
	e.status = ledger.StatusResolved
	e.payouts = append(e.payouts, payouts...)
}

func (l *Ledger) receipt() ledger.Receipt {
	l.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.seq)
	return ledger.Receipt{
		TxHash:      common.BytesToHash(buf[:]),
		BlockNumber: l.seq,
		MinedAt:     l.now(),
	}
}

// ArbitrationCost quotes the arbitrator's current price. Always fresh: the
// arbitrator may reprice between a quote and the fee deposit.
func (l *Ledger) ArbitrationCost(ctx context.Context, arbitrator common.Address, extraData []byte) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrTransport, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.arbitrators[arbitrator]
	if !ok {
		return nil, fmt.Errorf("%w: arbitrator %s", ledger.ErrNotFound, arbitrator.Hex())
	}
	return new(big.Int).Set(a.cost), nil
}

// DisputeID reports the dispute opened for an instance, if any.
func (l *Ledger) DisputeID(instance common.Address) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[instance]
	if !ok {
		return 0, false
	}
	return e.disputeID, e.disputeID != 0
}

// Payouts reports the terminal transfers recorded for an instance.
func (l *Ledger) Payouts(instance common.Address) []Payout {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[instance]
	if !ok {
		return nil
	}
	out := make([]Payout, len(e.payouts))
	copy(out, e.payouts)
	return out
}

// Evidence reports the record locators linked to an instance, in submission order.
func (l *Ledger) Evidence(instance common.Address) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[instance]
	if !ok {
		return nil
	}
	out := make([]string, len(e.evidence))
	copy(out, e.evidence)
	return out
}

func remaining(since time.Time, period time.Duration, now time.Time) time.Duration {
	deadline := since.Add(period)
	if !now.Before(deadline) {
		return 0
	}
	return deadline.Sub(now)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
