package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrIdempotencyMismatch is returned when a key is reused with a different payload.
var ErrIdempotencyMismatch = errors.New("idempotency key reuse with different request body")

var idempotencyBucket = []byte("idempotency")

// IdempotencyStore persists cached responses keyed by (api key, idempotency
// key), so retried submissions replay the original response instead of
// re-executing the instruction.
type IdempotencyStore struct {
	db *bolt.DB
}

type storedResponse struct {
	RequestHash string `json:"requestHash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	CreatedAt   int64  `json:"createdAt"`
}

// StoredResponse represents a cached response for an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

func NewIdempotencyStore(path string) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(idempotencyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db}, nil
}

func (s *IdempotencyStore) Close() error {
	return s.db.Close()
}

func storeKey(apiKey, key string) []byte {
	return []byte(apiKey + "|" + key)
}

// Lookup returns the cached response for the key, nil when unseen, and
// ErrIdempotencyMismatch when the key was used with a different request.
func (s *IdempotencyStore) Lookup(apiKey, key, requestHash string) (*StoredResponse, error) {
	var cached *StoredResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(idempotencyBucket).Get(storeKey(apiKey, key))
		if raw == nil {
			return nil
		}
		var stored storedResponse
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decode idempotency record: %w", err)
		}
		if stored.RequestHash != requestHash {
			return ErrIdempotencyMismatch
		}
		cached = &StoredResponse{Status: stored.Status, Body: append([]byte(nil), stored.Body...)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// Remember caches the response for future replays of the same key.
func (s *IdempotencyStore) Remember(apiKey, key, requestHash string, status int, body []byte) error {
	record := storedResponse{
		RequestHash: requestHash,
		Status:      status,
		Body:        append([]byte(nil), body...),
		CreatedAt:   time.Now().Unix(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(idempotencyBucket).Put(storeKey(apiKey, key), raw)
	})
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(method + "\n" + path + "\n" + string(body)))
	return hex.EncodeToString(sum[:])
}
