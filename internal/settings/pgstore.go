package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed ValuesStore using the settings_values table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL values store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Get returns the stored values of a boat.
func (s *PgStore) Get(ctx context.Context, boatID string) (Values, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT setting_id, value
		FROM settings_values
		WHERE boat_id = $1`,
		boatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query settings values: %w", err)
	}
	defer rows.Close()

	values := make(Values)
	for rows.Next() {
		var id, value int
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scan settings value: %w", err)
		}
		values[id] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings values: %w", err)
	}
	return values, nil
}

// Set upserts one value.
func (s *PgStore) Set(ctx context.Context, boatID string, settingID, value int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings_values (boat_id, setting_id, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (boat_id, setting_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		boatID, settingID, value,
	)
	if err != nil {
		return fmt.Errorf("upsert settings value: %w", err)
	}
	return nil
}

// Revert undoes a Set of expected. The value guard in the WHERE clause
// makes the check and the write one statement.
func (s *PgStore) Revert(ctx context.Context, boatID string, settingID, expected int, previous *int) (bool, error) {
	var (
		query string
		args  = []any{boatID, settingID, expected}
	)
	if previous != nil {
		query = `
		UPDATE settings_values
		SET value = $4, updated_at = now()
		WHERE boat_id = $1 AND setting_id = $2 AND value = $3`
		args = append(args, *previous)
	} else {
		query = `
		DELETE FROM settings_values
		WHERE boat_id = $1 AND setting_id = $2 AND value = $3`
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("revert settings value: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
