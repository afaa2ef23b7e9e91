package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTransport signals the ledger node was unreachable. Retryable by the caller.
	ErrTransport = errors.New("ledger: transport failure")
	// ErrUnauthorized signals a role-gated method was called from the wrong identity.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrInvalidTransition signals an action attempted outside its legal state.
	ErrInvalidTransition = errors.New("ledger: invalid state transition")
	// ErrStaleQuote signals the attached value no longer covers the arbitration cost.
	ErrStaleQuote = errors.New("ledger: stale arbitration quote")
	// ErrNotFound signals the instance address resolves to no deployed contract.
	ErrNotFound = errors.New("ledger: instance not found")
	// ErrUnknownMethod signals a call or send against a method the contract lacks.
	ErrUnknownMethod = errors.New("ledger: unknown method")
)

// DeployParams carries the constructor arguments of a new escrow instance.
type DeployParams struct {
	Payer                       common.Address
	Payee                       common.Address
	Arbitrator                  common.Address
	Amount                      *big.Int
	DescriptorLocator           string
	ReclamationPeriod           time.Duration
	ArbitrationFeeDepositPeriod time.Duration
}

// Gateway is the sole mutator and reader of authoritative escrow state. Send
// attributes every state change to a caller identity; the gateway rejects
// role-gated methods from non-authorized identities with ErrUnauthorized.
type Gateway interface {
	Deploy(ctx context.Context, params DeployParams) (Instance, error)
	Call(ctx context.Context, instance common.Address, method string, args ...any) (any, error)
	Send(ctx context.Context, instance common.Address, method string, from common.Address, value *big.Int, args ...any) (Receipt, error)
}

// ArbitratorGateway is the narrow arbitrator slice the coordinator consumes.
// Cost must be quoted fresh on every call; arbitrators may reprice.
type ArbitratorGateway interface {
	ArbitrationCost(ctx context.Context, arbitrator common.Address, extraData []byte) (*big.Int, error)
}
