package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the pending code of one phone.
type Entry struct {
	Code      string    `json:"code"`
	SentAt    time.Time `json:"sent_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// CodeStore holds pending codes keyed by normalized phone. Expiry is
// evaluated by the caller; stores never drop an entry on their own before
// its ExpiresAt.
type CodeStore interface {
	// Get returns the entry of a phone; found is false when none exists.
	Get(ctx context.Context, phone string) (entry Entry, found bool, err error)

	// Put stores an entry, replacing any previous one.
	Put(ctx context.Context, phone string, entry Entry) error

	// Update applies fn to the stored entry of a phone atomically with
	// respect to every other store operation on that phone. fn returns
	// false to delete the entry instead of storing it. fn is not called
	// when no entry exists and may be called more than once. The returned
	// entry is the one fn last saw.
	Update(ctx context.Context, phone string, fn func(e *Entry) (keep bool)) (entry Entry, found bool, err error)

	// Delete removes a phone's entry. Deleting an absent entry is not an
	// error.
	Delete(ctx context.Context, phone string) error
}

// MemoryStore is an in-memory CodeStore for single-instance deployments and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the entry of a phone.
func (s *MemoryStore) Get(_ context.Context, phone string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[phone]
	return e, ok, nil
}

// Put stores an entry.
func (s *MemoryStore) Put(_ context.Context, phone string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[phone] = entry
	return nil
}

// Update applies fn under the store lock.
func (s *MemoryStore) Update(_ context.Context, phone string, fn func(*Entry) bool) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[phone]
	if !ok {
		return Entry{}, false, nil
	}
	if fn(&e) {
		s.entries[phone] = e
	} else {
		delete(s.entries, phone)
	}
	return e, true, nil
}

// Delete removes a phone's entry.
func (s *MemoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, phone)
	return nil
}

// Len returns the number of entries, expired or not. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// redisRetention keeps expired entries around long enough to answer
// CODE_EXPIRED instead of CODE_NOT_FOUND, after which Redis reclaims them.
const redisRetention = time.Hour

// maxUpdateRetries bounds optimistic retries of RedisStore.Update.
const maxUpdateRetries = 32

// RedisStore is a Redis-backed CodeStore shared by all portal instances.
// Keys have the form "sms:code:{phone}".
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed code store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(phone string) string {
	return "sms:code:" + phone
}

// Get returns the entry of a phone.
func (s *RedisStore) Get(ctx context.Context, phone string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get code: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal code entry: %w", err)
	}
	return e, true, nil
}

// ttl outlives ExpiresAt by redisRetention.
func (s *RedisStore) ttl(entry Entry) time.Duration {
	ttl := entry.ExpiresAt.Sub(s.now()) + redisRetention
	if ttl <= 0 {
		ttl = redisRetention
	}
	return ttl
}

// Put stores an entry.
func (s *RedisStore) Put(ctx context.Context, phone string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal code entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(phone), data, s.ttl(entry)).Err(); err != nil {
		return fmt.Errorf("redis set code: %w", err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction on the phone's key and
// retries when another client changed the key in between.
func (s *RedisStore) Update(ctx context.Context, phone string, fn func(*Entry) bool) (Entry, bool, error) {
	key := redisKey(phone)
	for i := 0; i < maxUpdateRetries; i++ {
		var (
			entry Entry
			found bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("redis get code: %w", err)
			}
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("unmarshal code entry: %w", err)
			}
			found = true

			keep := fn(&entry)
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("marshal code entry: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if keep {
					pipe.Set(ctx, key, data, s.ttl(entry))
				} else {
					pipe.Del(ctx, key)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Entry{}, false, err
		}
		return entry, found, nil
	}
	return Entry{}, false, fmt.Errorf("redis update code: gave up after %d conflicting writes", maxUpdateRetries)
}

// Delete removes a phone's entry.
func (s *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, redisKey(phone)).Err(); err != nil {
		return fmt.Errorf("redis del code: %w", err)
	}
	return nil
}
