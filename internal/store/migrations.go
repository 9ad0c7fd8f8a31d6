package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS alerts (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT NOT NULL,
    source TEXT NOT NULL CHECK (source IN ('cmc', 'coingecko')),
    cmc_id INT,
    network_id TEXT,
    token_address TEXT,
    display_name TEXT NOT NULL DEFAULT '',
    condition TEXT NOT NULL CHECK (condition IN ('above', 'below')),
    target_price NUMERIC NOT NULL CHECK (target_price > 0),
    label TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT true,
    trigger_count INT NOT NULL DEFAULT 0,
    last_triggered_at TIMESTAMPTZ,
    last_triggered_price NUMERIC,
    polling_interval_override INT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT alerts_target_shape CHECK (
        (source = 'cmc' AND cmc_id IS NOT NULL)
        OR (source = 'coingecko' AND network_id IS NOT NULL AND token_address IS NOT NULL)
    ),
    CONSTRAINT alerts_active_untriggered CHECK (NOT is_active OR last_triggered_at IS NULL)
);

CREATE INDEX IF NOT EXISTS alerts_active_source_idx ON alerts (source) WHERE is_active;
CREATE INDEX IF NOT EXISTS alerts_owner_idx ON alerts (owner_id);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
