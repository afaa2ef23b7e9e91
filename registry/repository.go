package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

var (
	ErrNotFound  = errors.New("registry: not found")
	ErrForbidden = errors.New("registry: forbidden")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams contains write parameters for journaling a deployed escrow.
type CreateParams struct {
	OwnerUserID       string
	Address           common.Address
	Payer             common.Address
	Payee             common.Address
	Arbitrator        common.Address
	Amount            *big.Int
	DescriptorLocator string
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Record, error) {
	const query = `
		INSERT INTO escrow_instances
			(owner_user_id, address, payer, payee, arbitrator, amount, status, descriptor_locator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, owner_user_id, address, payer, payee, arbitrator, amount::text, status, descriptor_locator, created_at, updated_at
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query,
		params.OwnerUserID,
		params.Address.Hex(),
		params.Payer.Hex(),
		params.Payee.Hex(),
		params.Arbitrator.Hex(),
		params.Amount.String(),
		ledger.StatusInitial.String(),
		params.DescriptorLocator,
	))
	if err != nil {
		return Record{}, fmt.Errorf("registry: create: %w", err)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, ownerID string) ([]Record, error) {
	const query = `
		SELECT id, owner_user_id, address, payer, payee, arbitrator, amount::text, status, descriptor_locator, created_at, updated_at
		FROM escrow_instances
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) GetByAddress(ctx context.Context, ownerID string, address common.Address) (Record, error) {
	const query = `
		SELECT id, owner_user_id, address, payer, payee, arbitrator, amount::text, status, descriptor_locator, created_at, updated_at
		FROM escrow_instances
		WHERE owner_user_id = $1 AND address = $2
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, ownerID, address.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("registry: get by address: %w", err)
	}
	return rec, nil
}

// UpdateStatus records the last observed ledger status. It does not guard
// transitions; the ledger already did.
func (r *Repository) UpdateStatus(ctx context.Context, ownerID string, address common.Address, status ledger.Status) (Record, error) {
	const query = `
		UPDATE escrow_instances
		SET status = $3, updated_at = now()
		WHERE owner_user_id = $1 AND address = $2
		RETURNING id, owner_user_id, address, payer, payee, arbitrator, amount::text, status, descriptor_locator, created_at, updated_at
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, ownerID, address.Hex(), status.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("registry: update status: %w", err)
	}
	return rec, nil
}

// AppendEvidenceParams contains write parameters for one evidence attempt.
type AppendEvidenceParams struct {
	InstanceID     string
	SubmittedBy    common.Address
	Name           string
	Description    string
	PayloadLocator string
	RecordLocator  string
	Linked         bool
	FailedStep     string
}

func (r *Repository) AppendEvidence(ctx context.Context, params AppendEvidenceParams) (EvidenceEntry, error) {
	const query = `
		INSERT INTO evidence_journal
			(instance_id, submitted_by, name, description, payload_locator, record_locator, linked, failed_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, instance_id, submitted_by, name, description, payload_locator, record_locator, linked, failed_step, created_at
	`

	var (
		entry       EvidenceEntry
		submittedBy string
	)
	err := r.pool.QueryRow(ctx, query,
		params.InstanceID,
		params.SubmittedBy.Hex(),
		params.Name,
		params.Description,
		params.PayloadLocator,
		params.RecordLocator,
		params.Linked,
		params.FailedStep,
	).Scan(
		&entry.ID,
		&entry.InstanceID,
		&submittedBy,
		&entry.Name,
		&entry.Description,
		&entry.PayloadLocator,
		&entry.RecordLocator,
		&entry.Linked,
		&entry.FailedStep,
		&entry.CreatedAt,
	)
	if err != nil {
		return EvidenceEntry{}, fmt.Errorf("registry: append evidence: %w", err)
	}
	entry.SubmittedBy = common.HexToAddress(submittedBy)
	return entry, nil
}

func (r *Repository) ListEvidence(ctx context.Context, ownerID, instanceID string) ([]EvidenceEntry, error) {
	const query = `
		SELECT e.id, e.instance_id, e.submitted_by, e.name, e.description,
		       e.payload_locator, e.record_locator, e.linked, e.failed_step, e.created_at
		FROM evidence_journal e
		JOIN escrow_instances i ON i.id = e.instance_id
		WHERE i.owner_user_id = $1 AND e.instance_id = $2
		ORDER BY e.created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("registry: list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]EvidenceEntry, 0, 8)
	for rows.Next() {
		var (
			entry       EvidenceEntry
			submittedBy string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&submittedBy,
			&entry.Name,
			&entry.Description,
			&entry.PayloadLocator,
			&entry.RecordLocator,
			&entry.Linked,
			&entry.FailedStep,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("registry: scan evidence: %w", err)
		}
		entry.SubmittedBy = common.HexToAddress(submittedBy)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate evidence: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		address    string
		payer      string
		payee      string
		arbitrator string
		amount     string
		status     string
	)
	err := row.Scan(
		&rec.ID,
		&rec.OwnerUserID,
		&address,
		&payer,
		&payee,
		&arbitrator,
		&amount,
		&status,
		&rec.DescriptorLocator,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	rec.Address = common.HexToAddress(address)
	rec.Payer = common.HexToAddress(payer)
	rec.Payee = common.HexToAddress(payee)
	rec.Arbitrator = common.HexToAddress(arbitrator)
	rec.Amount, _ = new(big.Int).SetString(amount, 10)
	rec.Status, err = parseStatus(status)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func parseStatus(s string) (ledger.Status, error) {
	for _, st := range []ledger.Status{
		ledger.StatusInitial,
		ledger.StatusReclaimed,
		ledger.StatusDisputed,
		ledger.StatusResolved,
	} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("registry: unknown status %q", s)
}
