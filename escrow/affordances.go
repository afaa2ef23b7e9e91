package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

// Affordances reports which actions the given identity may currently take on
// an instance. Recompute whenever the active identity or the instance status
// changes; affordances are advisory, the ledger re-checks every guard.
type Affordances struct {
	CanReclaim        bool `json:"canReclaim"`
	CanRelease        bool `json:"canRelease"`
	CanDepositFee     bool `json:"canDepositFee"`
	CanTimeout        bool `json:"canTimeout"`
	CanSubmitEvidence bool `json:"canSubmitEvidence"`
}

// Affordances evaluates the role and time gates for identity against the
// instance's current remote state.
func (c *Coordinator) Affordances(ctx context.Context, instance, identity common.Address) (Affordances, error) {
	status, err := c.binding.Status(ctx, instance)
	if err != nil {
		return Affordances{}, fmt.Errorf("escrow: affordances: read status: %w", err)
	}
	payer, err := c.binding.Payer(ctx, instance)
	if err != nil {
		return Affordances{}, fmt.Errorf("escrow: affordances: read payer: %w", err)
	}
	payee, err := c.binding.Payee(ctx, instance)
	if err != nil {
		return Affordances{}, fmt.Errorf("escrow: affordances: read payee: %w", err)
	}

	isPayer := identity == payer
	isPayee := identity == payee

	var a Affordances
	a.CanSubmitEvidence = (isPayer || isPayee) &&
		status != ledger.StatusResolved &&
		c.binding.SupportsEvidenceExchange()

	switch status {
	case ledger.StatusInitial:
		a.CanReclaim = isPayer
		if isPayer {
			a.CanRelease = true
		} else if isPayee {
			left, err := c.binding.RemainingTimeToReclaim(ctx, instance)
			if err != nil {
				return Affordances{}, fmt.Errorf("escrow: affordances: read reclaim window: %w", err)
			}
			a.CanRelease = left == 0
		}
	case ledger.StatusReclaimed:
		left, err := c.binding.RemainingTimeToDepositArbitrationFee(ctx, instance)
		if err != nil {
			return Affordances{}, fmt.Errorf("escrow: affordances: read deposit window: %w", err)
		}
		a.CanDepositFee = isPayee && left > 0
		a.CanTimeout = left == 0
	}

	return a, nil
}
