package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists documents by user ID.
type Store interface {
	// Get returns the user's document and whether one was stored.
	Get(ctx context.Context, userID string) (Document, bool, error)

	// Update loads the user's document (defaults if none), applies fn and
	// stores the result atomically. Nothing is stored when fn fails.
	Update(ctx context.Context, userID string, fn func(*Document) error) (Document, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Get returns a copy of the stored document.
func (s *MemoryStore) Get(_ context.Context, userID string) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[userID]
	if !ok {
		return NewDocument(), false, nil
	}
	return clone(d), true, nil
}

// Update applies fn under the store lock.
func (s *MemoryStore) Update(_ context.Context, userID string, fn func(*Document) error) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[userID]
	if ok {
		d = clone(d)
	} else {
		d = NewDocument()
	}
	if err := fn(&d); err != nil {
		return Document{}, err
	}
	s.docs[userID] = d
	return clone(d), nil
}

func clone(d Document) Document {
	d.ServiceRequests = append([]ServiceRequestRef{}, d.ServiceRequests...)
	return d
}

// PgStore keeps documents as JSONB in the profiles table.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL profile store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Get returns the stored document.
func (s *PgStore) Get(ctx context.Context, userID string) (Document, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT document
		FROM profiles
		WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewDocument(), false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("query profile: %w", err)
	}
	d, err := decode(raw)
	if err != nil {
		return Document{}, false, err
	}
	return d, true, nil
}

// Update reads the row FOR UPDATE, applies fn and upserts the result in
// one transaction.
func (s *PgStore) Update(ctx context.Context, userID string, fn func(*Document) error) (Document, error) {
	var out Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		d := NewDocument()
		var raw []byte
		err := tx.QueryRow(ctx, `
			SELECT document
			FROM profiles
			WHERE user_id = $1
			FOR UPDATE`,
			userID,
		).Scan(&raw)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lock profile: %w", err)
		default:
			if d, err = decode(raw); err != nil {
				return err
			}
		}

		if err := fn(&d); err != nil {
			return err
		}
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, document, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (user_id)
			DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
			userID, data,
		); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func decode(raw []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return Document{}, fmt.Errorf("decode profile: %w", err)
	}
	d.fill()
	return d, nil
}
