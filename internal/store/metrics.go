package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/domain"
)

// ServiceMetricStore persists domain.ServiceMetricSample rows written by the
// Metrics workflow (spec.md §4.6).
type ServiceMetricStore struct{ pool *pgxpool.Pool }

func (r *ServiceMetricStore) InsertBatch(ctx context.Context, samples []domain.ServiceMetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	var batch pgx.Batch
	for _, s := range samples {
		batch.Queue(
			`INSERT INTO compose_stack_service_metrics
				(stack_id, service_name, cpu_percent, memory_bytes, net_tx, net_rx, disk_read, disk_write, sampled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			s.StackID, s.ServiceName, s.CPUPercent, s.MemoryBytes, s.NetTx, s.NetRx, s.DiskRead, s.DiskWrite)
	}

	br := r.pool.SendBatch(ctx, &batch)
	defer br.Close()
	for range samples {
		if _, err := br.Exec(); err != nil {
			return errors.Wrap(err, "cannot insert service metric sample")
		}
	}
	return nil
}
