package test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/registry"
	"escrowflow/simledger"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
	"escrowflow/view"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent actor sets")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

var (
	payerA   = common.HexToAddress("0xA0000000000000000000000000000000000000a1")
	payeeB   = common.HexToAddress("0xB0000000000000000000000000000000000000b2")
	arbR     = common.HexToAddress("0xC0000000000000000000000000000000000000c3")
	arbOwner = common.HexToAddress("0xD0000000000000000000000000000000000000d4")
)

// memPublisher is a content-addressed in-memory store for stress runs.
type memPublisher struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMemPublisher() *memPublisher {
	return &memPublisher{store: map[string][]byte{}}
}

func (p *memPublisher) Publish(_ context.Context, _ string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	locator := "/ipfs/Qm" + hex.EncodeToString(sum[:16])
	p.mu.Lock()
	p.store[locator] = append([]byte(nil), data...)
	p.mu.Unlock()
	return locator, nil
}

func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rng := rand.New(rand.NewSource(seed))

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no Docker and no local PostgreSQL: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	ownerID := mustSeedUser(t, ctx, pool)

	l := simledger.New()
	l.RegisterArbitrator(arbR, arbOwner, big.NewInt(10))
	binding := escrow.NewBinding(l, true)
	coordinator := escrow.NewCoordinator(l, l, binding, newMemPublisher())
	reconciler := view.NewReconciler(binding)
	reg := registry.NewService(registry.NewRepository(pool))

	book := &actors.Book{}
	openParams := func() escrow.OpenCaseParams {
		return escrow.OpenCaseParams{
			Payer:                       payerA,
			Payee:                       payeeB,
			Arbitrator:                  arbR,
			Amount:                      big.NewInt(int64(10 + rng.Intn(990))),
			Title:                       "Stress escrow",
			Description:                 "generated workload",
			ReclamationPeriod:           time.Duration(1+rng.Intn(3)) * time.Second,
			ArbitrationFeeDepositPeriod: time.Duration(1+rng.Intn(3)) * time.Second,
		}
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		return actors.Opener(ctx2, coordinator, reg, ownerID, openParams, book, stop)
	})
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Reclaimer(ctx2, coordinator, book, payerA, stop) })
		g.Go(func() error { return actors.Releaser(ctx2, coordinator, book, payeeB, stop) })
		g.Go(func() error { return actors.FeeDepositor(ctx2, coordinator, book, payeeB, stop) })
		g.Go(func() error { return actors.Refresher(ctx2, reconciler, book, stop) })
	}
	g.Go(func() error { return actors.Releaser(ctx2, coordinator, book, payerA, stop) })
	g.Go(func() error { return actors.TimeoutCaller(ctx2, coordinator, book, arbOwner, stop) })
	g.Go(func() error { return actors.Arbiter(ctx2, l, book, arbR, arbOwner, stop) })
	g.Go(func() error { return actors.EvidenceSubmitter(ctx2, coordinator, reg, book, payerA, stop) })
	g.Go(func() error { return actors.Journalist(ctx2, binding, reg, ownerID, book, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	evidenceSeen := map[common.Address]int{}

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				// chaos may have severed this connection; retry next tick
				t.Logf("oracle query error: %v", err)
				continue
			}
			if name != "" {
				failed = true
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
			if msg := checkLedger(ctx2, l, book, evidenceSeen); msg != "" {
				failed = true
				t.Fatalf("Ledger invariant failed: %s (seed=%d)", msg, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	if msg := checkLedger(context.Background(), l, book, evidenceSeen); msg != "" {
		t.Fatalf("Ledger invariant failed after shutdown: %s (seed=%d)", msg, seed)
	}
}

// checkLedger verifies the funds and ordering invariants no interleaving may
// break: statuses stay legal, funds leave an escrow exactly once and in full,
// and linked evidence is append-only.
func checkLedger(ctx context.Context, l *simledger.Ledger, book *actors.Book, evidenceSeen map[common.Address]int) string {
	for _, e := range book.All() {
		payoutsBefore := l.Payouts(e.Addr)
		raw, err := l.Call(ctx, e.Addr, "status")
		if err != nil {
			return fmt.Sprintf("read status of %s: %v", e.Addr.Hex(), err)
		}
		status, ok := raw.(ledger.Status)
		if !ok {
			return fmt.Sprintf("status of %s has type %T", e.Addr.Hex(), raw)
		}
		switch status {
		case ledger.StatusInitial, ledger.StatusReclaimed, ledger.StatusDisputed, ledger.StatusResolved:
		default:
			return fmt.Sprintf("escrow %s has illegal status %d", e.Addr.Hex(), status)
		}

		// payouts and status are read under separate lock acquisitions, but
		// resolution is monotone: payouts observed before a non-resolved
		// status reading are a genuine violation, and a resolved status
		// guarantees the subsequent payout reading is complete
		if status != ledger.StatusResolved && len(payoutsBefore) > 0 {
			return fmt.Sprintf("escrow %s paid out before resolution", e.Addr.Hex())
		}
		if status == ledger.StatusResolved {
			payouts := l.Payouts(e.Addr)
			rawValue, err := l.Call(ctx, e.Addr, "value")
			if err != nil {
				return fmt.Sprintf("read value of %s: %v", e.Addr.Hex(), err)
			}
			if len(payouts) == 0 || len(payouts) > 2 {
				return fmt.Sprintf("escrow %s resolved with %d payouts", e.Addr.Hex(), len(payouts))
			}
			total := new(big.Int)
			for _, p := range payouts {
				total.Add(total, p.Amount)
			}
			amount := rawValue.(*big.Int)
			if total.Cmp(amount) != 0 {
				return fmt.Sprintf("escrow %s resolved paying %s of %s", e.Addr.Hex(), total, amount)
			}
		}

		n := len(l.Evidence(e.Addr))
		if prev, seen := evidenceSeen[e.Addr]; seen && n < prev {
			return fmt.Sprintf("evidence of %s shrank from %d to %d", e.Addr.Hex(), prev, n)
		}
		evidenceSeen[e.Addr] = n
	}
	return ""
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, wallet_address) VALUES ($1, $2, $3, $4) RETURNING id`,
		fmt.Sprintf("stress%d@example.com", rand.Int63()), "Stress User", "x", payerA.Hex(),
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}
