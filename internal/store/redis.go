package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/localvercel/intake/internal/domain"
)

const updateRetries = 5

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Key        string
	MaxRecords int
	Retention  time.Duration
	Timeout    time.Duration
}

// Redis keeps records as JSON strings in one capped list whose TTL is
// refreshed on every write.
type Redis struct {
	client     redis.UniversalClient
	logger     *slog.Logger
	key        string
	maxRecords int
	retention  time.Duration
	timeout    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis constructs the Redis backend around an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.Key == "" {
		opts.Key = "deployment:errors"
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 1000
	}
	if opts.Retention <= 0 {
		opts.Retention = domain.DefaultRetentionTime
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Redis{
		client:     client,
		logger:     logger,
		key:        opts.Key,
		maxRecords: opts.MaxRecords,
		retention:  opts.Retention,
		timeout:    opts.Timeout,
	}
}

func (s *Redis) Push(ctx context.Context, rec domain.FailureRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, payload)
		pipe.LTrim(ctx, s.key, 0, int64(s.maxRecords-1))
		pipe.Expire(ctx, s.key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push: %w", err)
	}
	return nil
}

// Expire refreshes the collection TTL and trims the tail of records older
// than maxAge. Records are pushed newest first, so everything after the first
// expired entry is older still.
func (s *Redis) Expire(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = s.retention
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, s.key, 0, -1).Result()
		if err != nil {
			return err
		}
		keep := len(raw)
		for i, item := range raw {
			var rec domain.FailureRecord
			if err := json.Unmarshal([]byte(item), &rec); err != nil {
				continue
			}
			if rec.Timestamp.Before(cutoff) {
				keep = i
				break
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if keep == 0 {
				pipe.Del(ctx, s.key)
				return nil
			}
			if keep < len(raw) {
				pipe.LTrim(ctx, s.key, 0, int64(keep-1))
			}
			pipe.Expire(ctx, s.key, maxAge)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis expire: %w", err)
	}
	return errors.New("redis expire: too much contention")
}

func (s *Redis) Range(ctx context.Context, start, end int) ([]domain.FailureRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.client.LRange(ctx, s.key, int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}
	return s.decodeAll(raw), nil
}

func (s *Redis) FilterByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.FailureRecord, error) {
	records, err := s.Range(ctx, 0, -1)
	if err != nil {
		return nil, err
	}
	return filterStatus(records, status, limit, time.Now().Add(-s.retention)), nil
}

func (s *Redis) Get(ctx context.Context, id string) (domain.FailureRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	records, err := s.load(ctx)
	if err != nil {
		return domain.FailureRecord{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.FailureRecord{}, ErrNotFound
}

// Update rewrites one list element under WATCH so a concurrent push or update
// aborts the transaction and the read is retried.
func (s *Redis) Update(ctx context.Context, id string, fn UpdateFunc) (domain.FailureRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		updated domain.FailureRecord
		fnErr   error
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, s.key, 0, -1).Result()
		if err != nil {
			return err
		}
		index := -1
		var rec domain.FailureRecord
		for i, item := range raw {
			var candidate domain.FailureRecord
			if err := json.Unmarshal([]byte(item), &candidate); err != nil {
				continue
			}
			if candidate.ID == id {
				index, rec = i, candidate
				break
			}
		}
		if index < 0 {
			return ErrNotFound
		}
		if err := fn(&rec); err != nil {
			fnErr = err
			return err
		}
		rec.ID = id
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, s.key, int64(index), payload)
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		switch {
		case err == nil:
			return updated, nil
		case fnErr != nil:
			return domain.FailureRecord{}, fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			return domain.FailureRecord{}, ErrNotFound
		default:
			return domain.FailureRecord{}, &BackendError{Err: fmt.Errorf("redis update: %w", err)}
		}
	}
	return domain.FailureRecord{}, fmt.Errorf("redis update %s: too much contention", id)
}

func (s *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *Redis) load(ctx context.Context) ([]domain.FailureRecord, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}
	return s.decodeAll(raw), nil
}

func (s *Redis) decodeAll(raw []string) []domain.FailureRecord {
	records := make([]domain.FailureRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.FailureRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping undecodable record", "key", s.key, "error", err)
			}
			continue
		}
		records = append(records, rec)
	}
	return records
}
