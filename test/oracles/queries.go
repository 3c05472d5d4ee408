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

// All returns the invariant queries. Each query selects VIOLATING rows, so an
// empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_closed_set",
			SQL: `SELECT id, status FROM hirings
                  WHERE status = 'expired'`,
		},
		{
			Name: "O2_quotation_shape",
			SQL: `SELECT h.id FROM hirings h
                  WHERE h.quoted_price IS NOT NULL
                    AND EXISTS (SELECT 1 FROM deliverables d WHERE d.hiring_id = h.id)`,
		},
		{
			Name: "O3_modality_shape",
			SQL: `SELECT h.id, h.modality FROM hirings h
                  WHERE (h.modality = 'by_deliverables' AND h.quoted_price IS NOT NULL)
                     OR (h.modality = 'full_payment'
                         AND EXISTS (SELECT 1 FROM deliverables d WHERE d.hiring_id = h.id))`,
		},
		{
			Name: "O4_split_sums_to_100",
			SQL: `SELECT id, initial_pct, final_pct FROM hirings
                  WHERE initial_pct < 0 OR final_pct < 0 OR initial_pct + final_pct <> 100`,
		},
		{
			Name: "O5_quoted_carries_anchor",
			SQL: `SELECT id FROM hirings
                  WHERE status = 'quoted' AND quoted_at IS NULL`,
		},
		{
			Name: "O6_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT hiring_id, seq,
                             LAG(seq) OVER (PARTITION BY hiring_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O7_terminal_emits_no_successor",
			SQL: `WITH ordered AS (
                      SELECT hiring_id, seq,
                             payload->>'next_status' AS next_status,
                             MAX(seq) OVER (PARTITION BY hiring_id) AS last_seq
                      FROM timeline_events
                      WHERE payload ? 'next_status')
                  SELECT hiring_id, seq, next_status FROM ordered
                  WHERE seq < last_seq
                    AND next_status IN ('cancelled','rejected','completed',
                                        'cancelled_by_claim','completed_by_claim',
                                        'completed_with_agreement')`,
		},
		{
			Name: "O8_outbox_not_stale",
			SQL: `SELECT id, topic, created_at FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
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
