package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_fee_split_balances",
			SQL: `SELECT id, agreed_amount, platform_fee, influencer_payout FROM collaborations
                  WHERE platform_fee + influencer_payout <> agreed_amount
                     OR platform_fee <> round(agreed_amount * 0.10, 2)`,
		},
		{
			Name: "O2_history_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT collaboration_id, seq,
                             LAG(seq) OVER (PARTITION BY collaboration_id ORDER BY seq) AS prev
                      FROM collaboration_status_history)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O3_history_chain",
			SQL: `WITH chain AS (
                      SELECT collaboration_id, seq, from_status,
                             LAG(to_status) OVER (PARTITION BY collaboration_id ORDER BY seq) AS prev_to
                      FROM collaboration_status_history)
                  SELECT * FROM chain
                  WHERE (prev_to IS NULL AND from_status IS NOT NULL)
                     OR (prev_to IS NOT NULL AND from_status IS DISTINCT FROM prev_to)`,
		},
		{
			Name: "O4_version_matches_history",
			SQL: `SELECT c.id, c.version, c.status, h.seq, h.to_status
                  FROM collaborations c
                  LEFT JOIN LATERAL (
                      SELECT seq, to_status FROM collaboration_status_history
                      WHERE collaboration_id = c.id ORDER BY seq DESC LIMIT 1) h ON true
                  WHERE h.seq IS NULL OR h.seq <> c.version OR h.to_status <> c.status`,
		},
		{
			Name: "O5_terminal_is_final",
			SQL: `SELECT collaboration_id, seq, from_status FROM collaboration_status_history
                  WHERE from_status IN ('COMPLETED','CANCELLED')`,
		},
		{
			Name: "O6_signed_needs_contract",
			SQL: `SELECT h.collaboration_id FROM collaboration_status_history h
                  LEFT JOIN contracts k ON k.collaboration_id = h.collaboration_id
                  WHERE h.action IN ('SIGN','START_PRODUCTION')
                    AND (k.collaboration_id IS NULL OR k.brand_signed_at IS NULL OR k.influencer_signed_at IS NULL)`,
		},
		{
			Name: "O7_escrow_once",
			SQL: `SELECT aggregate_id, payload->>'kind' AS kind, COUNT(*) FROM collaboration_outbox
                  WHERE topic = 'escrow.instruction' AND payload->>'kind' IN ('hold','release')
                  GROUP BY aggregate_id, payload->>'kind' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_escrow_state_matches",
			SQL: `SELECT e.collaboration_id, e.state, c.status FROM escrow_holds e
                  JOIN collaborations c ON c.id = e.collaboration_id
                  WHERE (e.state = 'captured' AND c.status <> 'COMPLETED')
                     OR (e.state = 'refunded' AND c.status <> 'CANCELLED')`,
		},
		{
			Name: "O9_outbox_not_stuck",
			SQL: `SELECT id, topic, status, attempt_count FROM collaboration_outbox
                  WHERE status NOT IN ('delivered','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O10_history_append_only_guard",
			SQL: `SELECT 'missing_history_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'collaboration_history_no_update')`,
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
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
