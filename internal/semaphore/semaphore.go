// Package semaphore implements the deploy concurrency limiter (SPEC_FULL.md
// §5): a single-row Postgres counter, bounded by
// TEMPORALIO_MAX_CONCURRENT_DEPLOYS, with explicit
// acquire/release/acquire_all/reset operations per spec.md §9's design note.
package semaphore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// lockKey is the fixed advisory-lock id acquire_all takes exclusively.
const lockKey = 845_201_001

// pollInterval is how often a blocked Acquire retries the reservation after
// a failed attempt, to avoid busy-spinning on the database.
const pollInterval = 250 * time.Millisecond

const (
	errAcquire    = "cannot acquire deploy semaphore"
	errRelease    = "cannot release deploy semaphore"
	errAcquireAll = "cannot acquire exclusive deploy semaphore"
	errReset      = "cannot reset deploy semaphore"
)

// Semaphore bounds how many ComposeStackDeployments may be DEPLOYING at
// once. The reservation lives in the deploy_semaphore singleton row, not in
// the deployments table's status column: a deployment is only flipped to
// DEPLOYING well after it has already competed for a concurrency slot
// (spec.md §4.4 queues it, spec.md §4.5 starts it), so counting DEPLOYING
// rows would let an unbounded number of about-to-deploy attempts race past
// the limit before any of them updates its own status.
type Semaphore struct {
	pool  *pgxpool.Pool
	limit int
}

// New builds a Semaphore backed by pool, capped at limit concurrent deploys.
func New(pool *pgxpool.Pool, limit int) *Semaphore {
	return &Semaphore{pool: pool, limit: limit}
}

// Acquire reserves one concurrency slot, blocking with a fixed poll interval
// (not a tight busy loop) until a slot frees or ctx is done. The caller must
// eventually call Release exactly once per successful Acquire.
func (s *Semaphore) Acquire(ctx context.Context) error {
	for {
		acquired, err := s.tryAcquire(ctx)
		if err != nil {
			return errors.Wrap(err, errAcquire)
		}
		if acquired {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errAcquire)
		case <-time.After(pollInterval):
		}
	}
}

func (s *Semaphore) tryAcquire(ctx context.Context) (bool, error) {
	var inFlight int
	err := s.pool.QueryRow(ctx,
		`UPDATE deploy_semaphore SET in_flight = in_flight + 1
		 WHERE id = 1 AND in_flight < $1
		 RETURNING in_flight`, s.limit,
	).Scan(&inFlight)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release frees one concurrency slot reserved by a prior successful Acquire.
func (s *Semaphore) Release(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE deploy_semaphore SET in_flight = GREATEST(in_flight - 1, 0) WHERE id = 1`)
	return errors.Wrap(err, errRelease)
}

// AcquireAll waits until the semaphore's in_flight count is zero (every slot
// reserved by Acquire has been released), then takes a Postgres advisory
// lock that excludes other AcquireAll callers until the returned release
// function runs — the "lock-all" maintenance primitive spec.md §9 names.
// Acquire does not take the advisory lock, so new reservations can still be
// made while it is held.
func (s *Semaphore) AcquireAll(ctx context.Context) (release func(context.Context) error, err error) {
	for {
		var inFlight int
		if err := s.pool.QueryRow(ctx,
			`SELECT in_flight FROM deploy_semaphore WHERE id = 1`).Scan(&inFlight); err != nil {
			return nil, errors.Wrap(err, errAcquireAll)
		}
		if inFlight == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errAcquireAll)
		case <-time.After(pollInterval):
		}
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errAcquireAll)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, errAcquireAll)
	}

	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockKey)
		return errors.Wrap(err, errRelease)
	}, nil
}

// Reset recomputes the limiter's notion of "in flight" from the
// authoritative DEPLOYING row count, used after a crash recovery pass
// reclassifies orphaned DEPLOYING rows — the one place the counter is
// allowed to drift from strict acquire/release bookkeeping back to ground
// truth.
func (s *Semaphore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE deploy_semaphore SET in_flight = (
			SELECT count(*) FROM compose_stack_deployments WHERE status = 'DEPLOYING'
		 ) WHERE id = 1`)
	return errors.Wrap(err, errReset)
}
