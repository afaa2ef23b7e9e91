package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_legal",
			SQL: `SELECT id, status FROM escrow_instances
                  WHERE status NOT IN ('initial','reclaimed','disputed','resolved')`,
		},
		{
			Name: "O2_amount_positive",
			SQL:  `SELECT id, amount FROM escrow_instances WHERE amount <= 0`,
		},
		{
			Name: "O3_linked_evidence_complete",
			SQL: `SELECT id FROM evidence_journal
                  WHERE linked AND (record_locator = '' OR payload_locator = '')`,
		},
		{
			Name: "O4_failed_evidence_names_step",
			SQL:  `SELECT id FROM evidence_journal WHERE NOT linked AND failed_step = ''`,
		},
		{
			Name: "O5_journal_references_instance",
			SQL: `SELECT e.id FROM evidence_journal e
                  LEFT JOIN escrow_instances i ON i.id = e.instance_id
                  WHERE i.id IS NULL`,
		},
		{
			Name: "O6_descriptor_always_present",
			SQL:  `SELECT id FROM escrow_instances WHERE descriptor_locator = ''`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
