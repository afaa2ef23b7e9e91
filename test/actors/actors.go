// Package actors contains the concurrent workloads driven by the stress test.
// Each actor hammers one escrow operation; role and time gate rejections are
// expected under contention and are not failures.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/registry"
	"escrowflow/simledger"
	"escrowflow/view"
)

// Entry pairs a deployed escrow with its registry record.
type Entry struct {
	Addr     common.Address
	RecordID string
}

// Book is the shared set of escrows the actors contend over.
type Book struct {
	mu      sync.RWMutex
	entries []Entry
}

func (b *Book) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
}

func (b *Book) Random() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[rand.Intn(len(b.entries))], true
}

func (b *Book) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// gateRejection reports whether err is an expected contention outcome.
func gateRejection(err error) bool {
	return errors.Is(err, ledger.ErrInvalidTransition) ||
		errors.Is(err, ledger.ErrUnauthorized) ||
		errors.Is(err, ledger.ErrStaleQuote) ||
		errors.Is(err, escrow.ErrEvidenceNotSupported)
}

// Opener deploys new escrows and journals them into the registry.
func Opener(ctx context.Context, c *escrow.Coordinator, reg *registry.Service, ownerID string, params func() escrow.OpenCaseParams, book *Book, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		inst, err := c.OpenCase(ctx, params())
		if err != nil {
			return fmt.Errorf("opener: %w", err)
		}
		rec, err := reg.Track(ctx, registry.CreateParams{
			OwnerUserID:       ownerID,
			Address:           inst.Address,
			Payer:             inst.Payer,
			Payee:             inst.Payee,
			Arbitrator:        inst.Arbitrator,
			Amount:            inst.Amount,
			DescriptorLocator: inst.DescriptorLocator,
		})
		if err == nil {
			// unjournaled escrows are left out of the contention set
			book.Add(Entry{Addr: inst.Address, RecordID: rec.ID})
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Reclaimer has the payer object to random escrows.
func Reclaimer(ctx context.Context, c *escrow.Coordinator, book *Book, payer common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 10, 30, func(e Entry) error {
		_, err := c.Reclaim(ctx, e.Addr, payer)
		return err
	})
}

// Releaser has the caller try to release random escrows.
func Releaser(ctx context.Context, c *escrow.Coordinator, book *Book, from common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 15, 40, func(e Entry) error {
		_, err := c.Release(ctx, e.Addr, from)
		return err
	})
}

// FeeDepositor has the payee fund disputes on reclaimed escrows.
func FeeDepositor(ctx context.Context, c *escrow.Coordinator, book *Book, payee common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 15, 40, func(e Entry) error {
		_, err := c.DepositArbitrationFee(ctx, e.Addr, payee)
		return err
	})
}

// TimeoutCaller triggers the fee deposit deadline on random escrows.
func TimeoutCaller(ctx context.Context, c *escrow.Coordinator, book *Book, from common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 30, 60, func(e Entry) error {
		_, err := c.Timeout(ctx, e.Addr, from)
		return err
	})
}

// Arbiter rules random open disputes.
func Arbiter(ctx context.Context, l *simledger.Ledger, book *Book, arbitrator, owner common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 40, 80, func(e Entry) error {
		disputeID, ok := l.DisputeID(e.Addr)
		if !ok {
			return nil
		}
		_, err := l.Send(ctx, arbitrator, "giveRuling", owner, nil, disputeID, rand.Intn(3))
		return err
	})
}

// EvidenceSubmitter publishes and links evidence, journaling every attempt.
func EvidenceSubmitter(ctx context.Context, c *escrow.Coordinator, reg *registry.Service, book *Book, from common.Address, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 40, 80, func(e Entry) error {
		receipt, err := c.SubmitEvidence(ctx, escrow.EvidenceParams{
			Instance:    e.Addr,
			From:        from,
			Payload:     []byte(fmt.Sprintf("note %d", rand.Int63())),
			PayloadName: "note.txt",
			Name:        "Stress note",
		})

		journal := registry.AppendEvidenceParams{
			InstanceID:  e.RecordID,
			SubmittedBy: from,
			Name:        "Stress note",
		}
		var step *escrow.StepError
		switch {
		case err == nil:
			journal.PayloadLocator = receipt.PayloadLocator
			journal.RecordLocator = receipt.RecordLocator
			journal.Linked = true
		case errors.As(err, &step):
			journal.PayloadLocator = step.PayloadLocator
			journal.RecordLocator = step.RecordLocator
			journal.FailedStep = string(step.Step)
		default:
			return err
		}
		// chaos kills backends mid-run; a lost journal write is not a failure
		_, _ = reg.AppendEvidence(ctx, journal)
		return err
	})
}

// Refresher rebuilds snapshots of random escrows.
func Refresher(ctx context.Context, r *view.Reconciler, book *Book, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 5, 20, func(e Entry) error {
		snap := r.Refresh(ctx, e.Addr)
		if !snap.Status.OK() && snap.Status.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("refresher: status read: %w", snap.Status.Err())
		}
		return nil
	})
}

// Journalist mirrors the last observed ledger status into the registry.
func Journalist(ctx context.Context, binding escrow.Binding, reg *registry.Service, ownerID string, book *Book, stop <-chan struct{}) error {
	return hammer(ctx, book, stop, 25, 50, func(e Entry) error {
		status, err := binding.Status(ctx, e.Addr)
		if err != nil {
			return err
		}
		_, _ = reg.UpdateStatus(ctx, ownerID, e.Addr, status)
		return nil
	})
}

func hammer(ctx context.Context, book *Book, stop <-chan struct{}, minMs, maxMs int, fn func(Entry) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if e, ok := book.Random(); ok {
			if err := fn(e); err != nil && !gateRejection(err) {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
		}
		time.Sleep(time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond)
	}
}
