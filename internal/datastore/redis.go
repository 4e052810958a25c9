package datastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maxpop/internal/provision"
)

// DefaultPrefix namespaces keys written for unsecured queues.
const DefaultPrefix = "UNSEC:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store writes transactions straight into the queue service's Redis,
// bypassing the HTTP API so the fill phase does not compete with the pops.
// A closed Store reconnects on next use, so one Store can serve consecutive runs.
type Store struct {
	mu     sync.Mutex
	rdb    *redis.Client
	opts   *redis.Options
	prefix string
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(rdb, opts.Prefix, logger)
}

func NewWithClient(rdb *redis.Client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: rdb, opts: rdb.Options(), prefix: prefix, logger: logger}
}

func (s *Store) client() *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rdb == nil {
		s.logger.Debug("reopening datastore connection", zap.String("addr", s.opts.Addr))
		s.rdb = redis.NewClient(s.opts)
	}
	return s.rdb
}

// QueueKey is the list holding pending transaction ids of a queue.
func (s *Store) QueueKey(queue string) string {
	return s.prefix + "queue:" + queue
}

// TransactionKey is the hash holding one transaction.
func (s *Store) TransactionKey(id string) string {
	return s.prefix + "trans:" + id
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client().Ping(ctx).Err()
}

// Push stores p as a new transaction and enqueues it on queue.
func (s *Store) Push(ctx context.Context, queue string, p provision.Provision) error {
	id := uuid.New().String()

	queues := make([]string, len(p.Queues))
	for i, q := range p.Queues {
		queues[i] = q.ID
	}

	_, err := s.client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.TransactionKey(id), map[string]interface{}{
			"payload":        p.Payload,
			"priority":       p.Priority,
			"expirationDate": strconv.FormatInt(p.ExpirationDate, 10),
			"queues":         strings.Join(queues, ","),
		})
		pipe.LPush(ctx, s.QueueKey(queue), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push transaction to %s: %w", queue, err)
	}
	return nil
}

// Pop removes up to max transactions from queue and returns their payloads, oldest first.
func (s *Store) Pop(ctx context.Context, queue string, max int) ([]string, error) {
	rdb := s.client()
	payloads := make([]string, 0, max)
	for i := 0; i < max; i++ {
		id, err := rdb.RPop(ctx, s.QueueKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return payloads, fmt.Errorf("pop %s: %w", queue, err)
		}

		key := s.TransactionKey(id)
		payload, err := rdb.HGet(ctx, key, "payload").Result()
		if errors.Is(err, redis.Nil) {
			s.logger.Debug("dangling transaction id", zap.String("queue", queue), zap.String("id", id))
			continue
		}
		if err != nil {
			return payloads, fmt.Errorf("read transaction %s: %w", id, err)
		}
		rdb.Del(ctx, key)
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Len returns the number of pending transactions in queue.
func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	return s.client().LLen(ctx, s.QueueKey(queue)).Result()
}

// Flush drops everything written to the database since the last flush.
func (s *Store) Flush(ctx context.Context) error {
	return s.client().FlushDB(ctx).Err()
}

// Close releases the connection pool. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	rdb := s.rdb
	s.rdb = nil
	s.mu.Unlock()
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}
