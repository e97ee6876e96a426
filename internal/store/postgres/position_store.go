package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solturn/yieldbridge/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// append-only status history, the per-leg bridge transactions, and the
// transient watcher state are stored as JSONB columns; pgx marshals them
// through encoding/json on the way in and out.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, owner_address, status,
	deposited_amount, bridged_amount, current_value, accrued_interest,
	deposit_apy, current_apy,
	bridge_deposit_address, bridge_intent_id, pool_id, protocol_name,
	status_history, deposit_bridge_tx, withdrawal_bridge_tx, watch_state,
	deposit_initiated_at, lending_started_at, withdrawal_initiated_at, completed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.OwnerAddress, &status,
		&p.DepositedAmount, &p.BridgedAmount, &p.CurrentValue, &p.AccruedInterest,
		&p.DepositAPY, &p.CurrentAPY,
		&p.BridgeDepositAddress, &p.BridgeIntentID, &p.PoolID, &p.ProtocolName,
		&p.StatusHistory, &p.DepositBridgeTx, &p.WithdrawalBridgeTx, &p.Watch,
		&p.DepositInitiatedAt, &p.LendingStartedAt, &p.WithdrawalInitiatedAt, &p.CompletedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner_address, status,
			deposited_amount, bridged_amount, current_value, accrued_interest,
			deposit_apy, current_apy,
			bridge_deposit_address, bridge_intent_id, pool_id, protocol_name,
			status_history, deposit_bridge_tx, withdrawal_bridge_tx, watch_state,
			deposit_initiated_at, lending_started_at, withdrawal_initiated_at, completed_at,
			updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21,
			NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OwnerAddress, string(p.Status),
		p.DepositedAmount, p.BridgedAmount, p.CurrentValue, p.AccruedInterest,
		p.DepositAPY, p.CurrentAPY,
		p.BridgeDepositAddress, p.BridgeIntentID, p.PoolID, p.ProtocolName,
		p.StatusHistory, p.DepositBridgeTx, p.WithdrawalBridgeTx, p.Watch,
		p.DepositInitiatedAt, p.LendingStartedAt, p.WithdrawalInitiatedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

const positionUpdateSet = `
	status                  = $2,
	deposited_amount        = $3,
	bridged_amount          = $4,
	current_value           = $5,
	accrued_interest        = $6,
	deposit_apy             = $7,
	current_apy             = $8,
	bridge_deposit_address  = $9,
	bridge_intent_id        = $10,
	pool_id                 = $11,
	protocol_name           = $12,
	status_history          = $13,
	deposit_bridge_tx       = $14,
	withdrawal_bridge_tx    = $15,
	watch_state             = $16,
	lending_started_at      = $17,
	withdrawal_initiated_at = $18,
	completed_at            = $19,
	updated_at              = NOW()`

func updateArgs(p domain.Position) []any {
	return []any{
		p.ID, string(p.Status),
		p.DepositedAmount, p.BridgedAmount, p.CurrentValue, p.AccruedInterest,
		p.DepositAPY, p.CurrentAPY,
		p.BridgeDepositAddress, p.BridgeIntentID, p.PoolID, p.ProtocolName,
		p.StatusHistory, p.DepositBridgeTx, p.WithdrawalBridgeTx, p.Watch,
		p.LendingStartedAt, p.WithdrawalInitiatedAt, p.CompletedAt,
	}
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	query := `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, updateArgs(p)...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateGuarded replaces the position only while its stored status still
// equals expected. The conditional WHERE clause is what makes concurrent
// transition attempts lose cleanly instead of double-applying.
func (s *PositionStore) UpdateGuarded(ctx context.Context, p domain.Position, expected domain.PositionStatus) error {
	query := `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1 AND status = $20`

	args := append(updateArgs(p), string(expected))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: guarded update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost guard.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", p.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: guarded update position %s: %w", p.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrStatusConflict
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByOwner returns positions for the given owner, optionally filtered by
// status, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, status *domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner_address = $1`
	args := []any{owner}
	argIdx := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*status))
		argIdx++
	}

	query += " ORDER BY deposit_initiated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", owner, err)
	}
	return positions, nil
}

// ListByStatus returns every position in any of the given statuses, oldest
// first so the watcher services the longest-waiting positions before newer
// ones.
func (s *PositionStore) ListByStatus(ctx context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	set := make([]string, len(statuses))
	for i, st := range statuses {
		set[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = ANY($1)
		 ORDER BY deposit_initiated_at ASC`, set)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

// ListTerminalBefore returns terminal positions last touched before cutoff,
// oldest first, for cold archival.
func (s *PositionStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		 WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1
		 ORDER BY updated_at ASC`
	args := []any{cutoff}

	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal positions: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
