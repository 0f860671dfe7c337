package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

var (
	_ Store   = (*PostgresStore)(nil)
	_ TxStore = (*PostgresStore)(nil)
)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// Migrate creates the tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn against a store bound to a single transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, st DestinationStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const destinationColumns = `id, qr_id, type, label, target_url, is_active, start_at, end_at, priority, pin_hash, version, created_at, updated_at`

func scanDestination(row pgx.Row) (*Destination, error) {
	var d Destination
	err := row.Scan(&d.ID, &d.QRID, &d.Type, &d.Label, &d.TargetURL, &d.IsActive, &d.StartAt, &d.EndAt,
		&d.Priority, &d.PinHash, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	normalizeTimes(&d)
	return &d, nil
}

func normalizeTimes(d *Destination) {
	if d.StartAt != nil {
		t := d.StartAt.UTC()
		d.StartAt = &t
	}
	if d.EndAt != nil {
		t := d.EndAt.UTC()
		d.EndAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
}

func (s *PostgresStore) CreateDestination(ctx context.Context, d *Destination) error {
	if err := ValidateDestination(d); err != nil {
		return err
	}
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = NewID(now)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
	d.Version = 1

	query := `INSERT INTO destinations (` + destinationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.q.Exec(ctx, query, d.ID, d.QRID, d.Type, d.Label, d.TargetURL, d.IsActive, d.StartAt, d.EndAt,
		d.Priority, d.PinHash, d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetDestination(ctx context.Context, id string) (*Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE id = $1`
	d, err := scanDestination(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) ListDestinationsByQr(ctx context.Context, qrID string) ([]Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE qr_id = $1 ORDER BY created_at, id`
	rows, err := s.q.Query(ctx, query, qrID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDestination(ctx context.Context, id string, patch DestinationPatch, expectedVersion int64) (*Destination, error) {
	current, err := s.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	next := patch.Apply(*current)
	if err := ValidateDestination(&next); err != nil {
		return nil, err
	}

	query := `UPDATE destinations
SET label = $3, target_url = $4, is_active = $5, start_at = $6, end_at = $7, priority = $8, pin_hash = $9,
    version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING ` + destinationColumns
	updated, err := scanDestination(s.q.QueryRow(ctx, query, id, expectedVersion, next.Label, next.TargetURL,
		next.IsActive, next.StartAt, next.EndAt, next.Priority, next.PinHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Someone bumped the version (or deleted the row) between read and write.
			if _, getErr := s.GetDestination(ctx, id); errors.Is(getErr, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, ErrVersionConflict
		}
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteDestination(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const triggerColumns = `id, source_destination_id, kind, threshold, target_qr_id, action, target_destination_id, fired_at, fired_count, created_at`

func scanTrigger(row pgx.Row) (*Trigger, error) {
	var t Trigger
	err := row.Scan(&t.ID, &t.SourceDestinationID, &t.Kind, &t.Threshold, &t.TargetQRID, &t.Action,
		&t.TargetDestinationID, &t.FiredAt, &t.FiredCount, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	normalizeTriggerTimes(&t)
	return &t, nil
}

func normalizeTriggerTimes(t *Trigger) {
	if t.FiredAt != nil {
		at := t.FiredAt.UTC()
		t.FiredAt = &at
	}
	t.CreatedAt = t.CreatedAt.UTC()
}

func (s *PostgresStore) CreateTrigger(ctx context.Context, t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = NewID(now)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	query := `INSERT INTO triggers (` + triggerColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, 0, $8)`
	_, err := s.q.Exec(ctx, query, t.ID, t.SourceDestinationID, t.Kind, t.Threshold, t.TargetQRID, t.Action,
		t.TargetDestinationID, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrAlreadyExists
			case "23503":
				return ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	t, err := scanTrigger(s.q.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) ListTriggersBySource(ctx context.Context, destinationID string) ([]Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE source_destination_id = $1 ORDER BY created_at, id`
	rows, err := s.q.Query(ctx, query, destinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkTriggerFired(ctx context.Context, triggerID string, at time.Time) (bool, error) {
	query := `UPDATE triggers SET fired_at = $2, fired_count = fired_count + 1 WHERE id = $1 AND fired_at IS NULL`
	tag, err := s.q.Exec(ctx, query, triggerID, at.UTC())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetTrigger(ctx, triggerID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ResetTrigger(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `UPDATE triggers SET fired_at = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTrigger(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
