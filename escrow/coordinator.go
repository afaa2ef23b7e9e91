// Package escrow sequences the escrow lifecycle: document generation,
// content-addressed publication and ledger mutation for state-changing
// actions. Multi-step actions are strictly ordered and abort on the first
// failure; the failure retains which step broke and any locator that had
// already become durable.
package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/document"
	"escrowflow/ledger"
)

// Publisher stores a payload in the content-addressed store and returns its
// locator. Identical bytes may collide on the same locator.
type Publisher interface {
	Publish(ctx context.Context, name string, data []byte) (string, error)
}

// Step names the stage at which a multi-step action failed.
type Step string

const (
	StepPublishDescriptor Step = "publish-descriptor"
	StepDeploy            Step = "deploy"
	StepPublishPayload    Step = "publish-payload"
	StepPublishRecord     Step = "publish-record"
	StepLinkEvidence      Step = "link-evidence"
)

// StepError reports a failed pipeline step together with locators that were
// already published before the failure. Published-but-unlinked content is
// orphaned, not corrupting; the coordinator never retries it.
type StepError struct {
	Step              Step
	DescriptorLocator string
	PayloadLocator    string
	RecordLocator     string
	Err               error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("escrow: step %s failed: %v", e.Step, e.Err)
	if e.PayloadLocator != "" {
		msg += fmt.Sprintf(" (payload published at %s)", e.PayloadLocator)
	}
	if e.RecordLocator != "" {
		msg += fmt.Sprintf(" (record published at %s)", e.RecordLocator)
	}
	if e.DescriptorLocator != "" {
		msg += fmt.Sprintf(" (descriptor published at %s)", e.DescriptorLocator)
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// descriptor and evidence documents are stored under fixed names; the store
// addresses by content, so names only preserve extension type.
const (
	descriptorFileName = "metaEvidence.json"
	recordFileName     = "evidence.json"
)

// arbitratorExtraData accompanies every cost quote; the protocol pins it empty.
var arbitratorExtraData []byte

// Coordinator drives one escrow contract variant. It performs no retries:
// value-attached sends must never be replayed implicitly.
type Coordinator struct {
	gateway     ledger.Gateway
	arbitrators ledger.ArbitratorGateway
	binding     Binding
	publisher   Publisher
}

func NewCoordinator(gw ledger.Gateway, arb ledger.ArbitratorGateway, binding Binding, pub Publisher) *Coordinator {
	return &Coordinator{
		gateway:     gw,
		arbitrators: arb,
		binding:     binding,
		publisher:   pub,
	}
}

// Binding exposes the contract binding for read-path consumers.
func (c *Coordinator) Binding() Binding { return c.binding }

// OpenCaseParams carries everything needed to open a new case.
type OpenCaseParams struct {
	Payer                       common.Address
	Payee                       common.Address
	Arbitrator                  common.Address
	Amount                      *big.Int
	Title                       string
	Description                 string
	ReclamationPeriod           time.Duration
	ArbitrationFeeDepositPeriod time.Duration
}

// OpenCase builds and publishes the case descriptor, then deploys the escrow
// instance referencing its locator. A deploy failure after a successful
// publish is surfaced as a distinct step failure; the published descriptor is
// wasted but harmless and is not republished.
func (c *Coordinator) OpenCase(ctx context.Context, params OpenCaseParams) (ledger.Instance, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return ledger.Instance{}, fmt.Errorf("escrow: open case: amount must be positive")
	}
	if params.Payer == params.Payee {
		return ledger.Instance{}, fmt.Errorf("escrow: open case: payer and payee must differ")
	}

	descriptor := document.BuildCaseDescriptor(params.Payer, params.Payee, params.Amount, params.Title, params.Description)

	locator, err := c.publisher.Publish(ctx, descriptorFileName, descriptor.Bytes())
	if err != nil {
		return ledger.Instance{}, &StepError{Step: StepPublishDescriptor, Err: err}
	}

	inst, err := c.gateway.Deploy(ctx, ledger.DeployParams{
		Payer:                       params.Payer,
		Payee:                       params.Payee,
		Arbitrator:                  params.Arbitrator,
		Amount:                      params.Amount,
		DescriptorLocator:           locator,
		ReclamationPeriod:           params.ReclamationPeriod,
		ArbitrationFeeDepositPeriod: params.ArbitrationFeeDepositPeriod,
	})
	if err != nil {
		return ledger.Instance{}, &StepError{Step: StepDeploy, DescriptorLocator: locator, Err: err}
	}
	return inst, nil
}

// Reclaim moves an Initial instance into Reclaimed. Payer only.
func (c *Coordinator) Reclaim(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return c.binding.Reclaim(ctx, instance, from)
}

// Release resolves an Initial instance in the payee's favor. The payer may
// concede at any time; the payee may trigger it unilaterally once the
// reclamation period has elapsed.
func (c *Coordinator) Release(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return c.binding.Release(ctx, instance, from)
}

// DepositArbitrationFee funds the dispute from the payee's side. The
// arbitration cost is quoted fresh immediately before the send; a repriced
// arbitrator surfaces as a stale-quote rejection from the ledger, never as a
// silent retry.
func (c *Coordinator) DepositArbitrationFee(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	arbitrator, err := c.binding.Arbitrator(ctx, instance)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("escrow: read arbitrator: %w", err)
	}
	cost, err := c.arbitrators.ArbitrationCost(ctx, arbitrator, arbitratorExtraData)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("escrow: quote arbitration cost: %w", err)
	}
	return c.binding.DepositArbitrationFee(ctx, instance, from, cost)
}

// Timeout resolves a Reclaimed instance whose fee-deposit window has elapsed,
// refunding the payer. Callable by anyone.
func (c *Coordinator) Timeout(ctx context.Context, instance, from common.Address) (ledger.Receipt, error) {
	return c.binding.Timeout(ctx, instance, from)
}

// EvidenceParams carries one piece of evidence for submission.
type EvidenceParams struct {
	Instance    common.Address
	From        common.Address
	Payload     []byte
	PayloadName string
	Name        string
	Description string
}

// EvidenceReceipt reports the durable outputs of a completed submission.
type EvidenceReceipt struct {
	PayloadLocator string
	RecordLocator  string
	Receipt        ledger.Receipt
}

// SubmitEvidence publishes the raw payload, builds and publishes the evidence
// record referencing it, then links the record on-ledger. Step N+1 never
// starts before step N succeeds. On failure the StepError names the broken
// step and carries every locator that is already durable.
func (c *Coordinator) SubmitEvidence(ctx context.Context, params EvidenceParams) (EvidenceReceipt, error) {
	if !c.binding.SupportsEvidenceExchange() {
		return EvidenceReceipt{}, ErrEvidenceNotSupported
	}
	if len(params.Payload) == 0 {
		return EvidenceReceipt{}, fmt.Errorf("escrow: submit evidence: empty payload")
	}

	payloadLocator, err := c.publisher.Publish(ctx, params.PayloadName, params.Payload)
	if err != nil {
		return EvidenceReceipt{}, &StepError{Step: StepPublishPayload, Err: err}
	}

	record := document.BuildEvidenceRecord(payloadLocator, params.Name, params.Description)
	recordLocator, err := c.publisher.Publish(ctx, recordFileName, record.Bytes())
	if err != nil {
		return EvidenceReceipt{}, &StepError{Step: StepPublishRecord, PayloadLocator: payloadLocator, Err: err}
	}

	receipt, err := c.binding.SubmitEvidence(ctx, params.Instance, params.From, recordLocator)
	if err != nil {
		return EvidenceReceipt{}, &StepError{
			Step:           StepLinkEvidence,
			PayloadLocator: payloadLocator,
			RecordLocator:  recordLocator,
			Err:            err,
		}
	}

	return EvidenceReceipt{
		PayloadLocator: payloadLocator,
		RecordLocator:  recordLocator,
		Receipt:        receipt,
	}, nil
}
