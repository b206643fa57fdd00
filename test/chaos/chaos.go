package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KillRandomBackend occasionally terminates one of the database backends
// serving the test database, forcing in-flight transactions onto the
// engine's retry path. Runs until ctx is done or stop closes.
func KillRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	for {
		delay := time.Duration(1500+rand.Intn(1500)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(delay):
		}
		if rand.Intn(4) != 0 {
			continue
		}
		_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                               WHERE datname = current_database() AND pid <> pg_backend_pid()
                               ORDER BY random() LIMIT 1`)
	}
}
