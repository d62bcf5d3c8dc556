package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BackendKiller terminates the stress run's own Postgres backends so actors
// hit dropped connections in the middle of a transaction.
type BackendKiller struct {
	Pool            *pgxpool.Pool
	ApplicationName string
	// Every is the tick interval. Each tick kills with probability 1/OneIn.
	Every time.Duration
	OneIn int
}

const killOne = `
SELECT pg_terminate_backend(pid) FROM pg_stat_activity
WHERE datname = current_database()
  AND application_name = $1
  AND pid <> pg_backend_pid()
ORDER BY random() LIMIT 1`

// Run kills backends until ctx ends or stop closes and returns how many
// terminations Postgres confirmed.
func (k BackendKiller) Run(ctx context.Context, rng *rand.Rand, stop <-chan struct{}) int {
	every, oneIn := k.Every, k.OneIn
	if every <= 0 {
		every = 2 * time.Second
	}
	if oneIn <= 0 {
		oneIn = 5
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var killed int
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rng.Intn(oneIn) != 0 {
				continue
			}
			var ok bool
			if err := k.Pool.QueryRow(ctx, killOne, k.ApplicationName).Scan(&ok); err == nil && ok {
				killed++
			}
		}
	}
}
