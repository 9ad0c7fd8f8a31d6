package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
)

// ErrNotFound is returned when the alert does not exist (or is not owned by
// the caller).
var ErrNotFound = errors.New("alert not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Alerts ---

const alertColumns = `id, owner_id, source, cmc_id, network_id, token_address, display_name,
	condition, target_price, label, is_active, trigger_count, last_triggered_at,
	last_triggered_price, polling_interval_override, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (alert.Alert, error) {
	var (
		a         alert.Alert
		source    string
		cmcID     *int
		networkID *string
		address   *string
		condition string
		lastPrice decimal.NullDecimal
	)
	err := row.Scan(&a.ID, &a.OwnerID, &source, &cmcID, &networkID, &address, &a.DisplayName,
		&condition, &a.TargetPrice, &a.Label, &a.Active, &a.TriggerCount, &a.LastTriggeredAt,
		&lastPrice, &a.PollingIntervalOverride, &a.CreatedAt)
	if err != nil {
		return alert.Alert{}, err
	}

	switch alert.Source(source) {
	case alert.SourceCMC:
		if cmcID == nil {
			return alert.Alert{}, fmt.Errorf("alert %d: cmc source without cmc_id", a.ID)
		}
		a.Target = alert.CMCTarget{ID: *cmcID}
	case alert.SourceCoinGecko:
		if networkID == nil || address == nil {
			return alert.Alert{}, fmt.Errorf("alert %d: coingecko source without network/address", a.ID)
		}
		a.Target = alert.CoinGeckoTarget{Network: *networkID, Address: *address}
	default:
		return alert.Alert{}, fmt.Errorf("alert %d: unknown source %q", a.ID, source)
	}
	a.Condition = alert.Condition(condition)
	if lastPrice.Valid {
		p := lastPrice.Decimal
		a.LastTriggeredPrice = &p
	}
	return a, nil
}

func collectAlerts(rows pgx.Rows) ([]alert.Alert, error) {
	defer rows.Close()
	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ActiveAlerts returns every active alert serviced by source. Alerts of the
// other source are never returned.
func (s *Store) ActiveAlerts(ctx context.Context, source alert.Source) ([]alert.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE is_active AND source = $1 ORDER BY id`, string(source))
	if err != nil {
		return nil, fmt.Errorf("query active %s alerts: %w", source, err)
	}
	return collectAlerts(rows)
}

// DeactivateAndLog records a trigger: the alert becomes inactive with the
// trigger time and price set and trigger_count incremented. It reports
// whether this call made the transition. An alert that is already inactive
// is left untouched and (false, nil) is returned.
func (s *Store) DeactivateAndLog(ctx context.Context, id int64, price decimal.Decimal) (bool, error) {
	var got int64
	err := s.pool.QueryRow(ctx, `
		UPDATE alerts
		SET is_active = false,
			last_triggered_at = now(),
			last_triggered_price = $2,
			trigger_count = trigger_count + 1
		WHERE id = $1 AND is_active
		RETURNING id`, id, price).Scan(&got)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("deactivate alert %d: %w", id, err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check alert %d: %w", id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// Reactivate re-arms an alert with a new condition and target price. The
// trigger history count is preserved.
func (s *Store) Reactivate(ctx context.Context, id, ownerID int64, cond alert.Condition, price decimal.Decimal) (alert.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE alerts
		SET condition = $3,
			target_price = $4,
			is_active = true,
			last_triggered_at = NULL,
			last_triggered_price = NULL
		WHERE id = $1 AND owner_id = $2
		RETURNING `+alertColumns, id, ownerID, string(cond), price)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, ErrNotFound
	}
	if err != nil {
		return alert.Alert{}, fmt.Errorf("reactivate alert %d: %w", id, err)
	}
	return a, nil
}

// Create inserts a new active alert and returns it with ID and CreatedAt set.
func (s *Store) Create(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	a.Active = true
	a.LastTriggeredAt = nil
	a.LastTriggeredPrice = nil
	if err := a.Validate(); err != nil {
		return alert.Alert{}, err
	}

	var (
		cmcID     *int
		networkID *string
		address   *string
	)
	switch t := a.Target.(type) {
	case alert.CMCTarget:
		cmcID = &t.ID
	case alert.CoinGeckoTarget:
		networkID = &t.Network
		address = &t.Address
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO alerts (owner_id, source, cmc_id, network_id, token_address, display_name,
			condition, target_price, label, polling_interval_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+alertColumns,
		a.OwnerID, string(a.Source()), cmcID, networkID, address, a.DisplayName,
		string(a.Condition), a.TargetPrice, a.Label, a.PollingIntervalOverride)
	created, err := scanAlert(row)
	if err != nil {
		return alert.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id int64) (alert.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, ErrNotFound
	}
	return a, err
}

func (s *Store) ListByOwner(ctx context.Context, ownerID int64, onlyActive bool) ([]alert.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE owner_id = $1 AND (is_active OR NOT $2)
		ORDER BY id`, ownerID, onlyActive)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %d: %w", ownerID, err)
	}
	return collectAlerts(rows)
}

func (s *Store) Delete(ctx context.Context, id, ownerID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive returns the number of active alerts for a source.
func (s *Store) CountActive(ctx context.Context, source alert.Source) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE is_active AND source = $1`, string(source)).Scan(&count)
	return count, err
}

// TriggerStats summarises trigger history across all alerts.
type TriggerStats struct {
	TotalAlerts   int        `json:"total_alerts"`
	ActiveAlerts  int        `json:"active_alerts"`
	TotalTriggers int        `json:"total_triggers"`
	LastTrigger   *time.Time `json:"last_trigger,omitempty"`
}

func (s *Store) TriggerStats(ctx context.Context) (TriggerStats, error) {
	var st TriggerStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COALESCE(SUM(trigger_count), 0),
			MAX(last_triggered_at)
		FROM alerts`).Scan(&st.TotalAlerts, &st.ActiveAlerts, &st.TotalTriggers, &st.LastTrigger)
	return st, err
}
