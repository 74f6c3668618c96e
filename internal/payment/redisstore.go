package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acmepay/payflow/internal/gateway"
)

// RedisStore shares intent records between replicas of the front door. Records
// expire with the TTL; redis is a cache here, not durable storage, matching
// the semantics of the in-memory store.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s RedisStore) intentKey(id string) string {
	return fmt.Sprintf("%sintent:%s", s.Prefix, id)
}

func (s RedisStore) orderKey(orderID string) string {
	return fmt.Sprintf("%sorder:%s", s.Prefix, orderID)
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 24 * time.Hour
	}
	return s.TTL
}

// Put stores the record and the order-id index entry.
func (s RedisStore) Put(ctx context.Context, rec Record) error {
	if s.Client == nil {
		return errors.New("payment: redis store not configured")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.Client.TxPipeline()
	pipe.Set(ctx, s.intentKey(rec.Intent.ID), data, s.ttl())
	if rec.Intent.MerchantOrderID != "" {
		pipe.Set(ctx, s.orderKey(rec.Intent.MerchantOrderID), rec.Intent.ID, s.ttl())
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get loads a record by intent id.
func (s RedisStore) Get(ctx context.Context, intentID string) (Record, error) {
	if s.Client == nil {
		return Record{}, errors.New("payment: redis store not configured")
	}
	data, err := s.Client.Get(ctx, s.intentKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetByOrder resolves the order index and loads the record.
func (s RedisStore) GetByOrder(ctx context.Context, merchantOrderID string) (Record, error) {
	if s.Client == nil {
		return Record{}, errors.New("payment: redis store not configured")
	}
	id, err := s.Client.Get(ctx, s.orderKey(merchantOrderID)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return s.Get(ctx, id)
}

// Update rewrites the stored record with the new status.
func (s RedisStore) Update(ctx context.Context, intentID string, status gateway.IntentStatus, method, reason string) error {
	rec, err := s.Get(ctx, intentID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.Intent.Status = status
	if method != "" {
		rec.Method = method
	}
	if reason != "" {
		rec.Reason = reason
	}
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.intentKey(intentID), data, s.ttl()).Err()
}
