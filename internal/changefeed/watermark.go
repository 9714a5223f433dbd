package changefeed

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WatermarkStore persists the per-entity-type poll checkpoint. Keeping the
// watermark in the database instead of process memory means a restart loses
// at most one in-flight pass, and overlapping redelivery is handled by the
// idempotent consumers downstream.
type WatermarkStore struct {
	pool *pgxpool.Pool
}

func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Get returns the stored watermark for the entity type. A missing row is
// initialized to now: a fresh deployment starts from the present instead of
// replaying the entire mirrored history.
func (s *WatermarkStore) Get(ctx context.Context, entityType string) (time.Time, error) {
	var mark time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT watermark FROM sync_watermarks WHERE entity_type = $1`,
		entityType,
	).Scan(&mark)
	if errors.Is(err, pgx.ErrNoRows) {
		now := time.Now().UTC()
		if err := s.Advance(ctx, entityType, now); err != nil {
			return time.Time{}, err
		}
		return now, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return mark, nil
}

// Advance moves the watermark forward. The watermark never moves backward:
// a concurrent pass that finished later wins.
func (s *WatermarkStore) Advance(ctx context.Context, entityType string, mark time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_watermarks (entity_type, watermark)
		VALUES ($1, $2)
		ON CONFLICT (entity_type) DO UPDATE SET
			watermark = GREATEST(sync_watermarks.watermark, EXCLUDED.watermark),
			updated_at = now()
	`, entityType, mark)
	return err
}
