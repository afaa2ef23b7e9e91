package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the record and evidence journal round trips.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "escrow_instances") || !tableExists(ctx, t, pool, "evidence_journal") {
		t.Skip("database schema missing; run migrations: migrate -path migrations -database \"$DATABASE_URL\" up")
	}

	var userID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, wallet_address) VALUES ($1, $2, $3, $4) RETURNING id`,
		fmt.Sprintf("alice+%d@example.com", time.Now().UnixNano()), "Alice Payer", "x", "0x52908400098527886E0F7030069857D2E4169EE7").Scan(&userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	repo := NewRepository(pool)

	// a large amount exercises the NUMERIC(78,0) column beyond int64
	amount, _ := new(big.Int).SetString("100000000000000000000", 10)
	address := common.HexToAddress(fmt.Sprintf("0x%040x", time.Now().UnixNano()))

	rec, err := repo.Create(ctx, CreateParams{
		OwnerUserID:       userID,
		Address:           address,
		Payer:             common.HexToAddress("0xA0000000000000000000000000000000000000a1"),
		Payee:             common.HexToAddress("0xB0000000000000000000000000000000000000b2"),
		Arbitrator:        common.HexToAddress("0xC0000000000000000000000000000000000000c3"),
		Amount:            amount,
		DescriptorLocator: "/ipfs/QmTest/metaEvidence.json",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM evidence_journal WHERE instance_id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM escrow_instances WHERE id = $1`, rec.ID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = $1`, userID)
	})

	if rec.Status != ledger.StatusInitial {
		t.Fatalf("expected Initial status, got %s", rec.Status)
	}
	if rec.Amount.Cmp(amount) != 0 {
		t.Fatalf("amount did not round-trip: want %s got %s", amount, rec.Amount)
	}
	if rec.Address != address {
		t.Fatalf("address did not round-trip: want %s got %s", address.Hex(), rec.Address.Hex())
	}

	got, err := repo.GetByAddress(ctx, userID, address)
	if err != nil {
		t.Fatalf("get by address: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("expected record %s got %s", rec.ID, got.ID)
	}

	if _, err := repo.GetByAddress(ctx, userID, common.HexToAddress("0x01")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown address, got %v", err)
	}

	updated, err := repo.UpdateStatus(ctx, userID, address, ledger.StatusReclaimed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != ledger.StatusReclaimed {
		t.Fatalf("expected Reclaimed, got %s", updated.Status)
	}

	// journal one linked submission and one partial failure
	if _, err := repo.AppendEvidence(ctx, AppendEvidenceParams{
		InstanceID:     rec.ID,
		SubmittedBy:    rec.Payer,
		Name:           "Delivery confirmation",
		Description:    "Courier receipt",
		PayloadLocator: "/ipfs/QmPayload1",
		RecordLocator:  "/ipfs/QmRecord1",
		Linked:         true,
	}); err != nil {
		t.Fatalf("append evidence: %v", err)
	}
	if _, err := repo.AppendEvidence(ctx, AppendEvidenceParams{
		InstanceID:     rec.ID,
		SubmittedBy:    rec.Payee,
		Name:           "Damage photo",
		PayloadLocator: "/ipfs/QmPayload2",
		Linked:         false,
		FailedStep:     "publish-record",
	}); err != nil {
		t.Fatalf("append failed evidence: %v", err)
	}

	entries, err := repo.ListEvidence(ctx, userID, rec.ID)
	if err != nil {
		t.Fatalf("list evidence: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(entries))
	}
	if !entries[0].Linked || entries[0].RecordLocator != "/ipfs/QmRecord1" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Linked || entries[1].FailedStep != "publish-record" {
		t.Fatalf("orphaned entry must keep its failed step: %+v", entries[1])
	}

	// another owner cannot see the journal
	foreign, err := repo.ListEvidence(ctx, "00000000-0000-0000-0000-000000000000", rec.ID)
	if err != nil {
		t.Fatalf("foreign list evidence: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatalf("journal must be owner-scoped, got %d entries", len(foreign))
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
