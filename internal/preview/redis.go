package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/logging"
)

const (
	fieldMediaType = "media_type"
	fieldData      = "data"
)

// RedisStore keeps previews in Redis so any replica behind a load balancer
// can serve GET /previews. Entries expire ttl after their last Create or
// Touch, so the owning session must touch its handle more often than that.
type RedisStore struct {
	client redis.Cmdable
	logger *zap.Logger
	ttl    time.Duration
	retry  retryPolicy
}

// NewRedisStore constructs a Redis-backed preview store.
func NewRedisStore(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("preview_store"),
		ttl:    ttl,
		retry:  retryPolicy{attempts: 3, initial: 50 * time.Millisecond, max: time.Second},
	}
}

func previewKey(h Handle) string {
	return fmt.Sprintf("preview:%s", h)
}

// Create writes img under a fresh handle.
func (s *RedisStore) Create(ctx context.Context, img Image) (Handle, error) {
	h := newHandle()
	key := previewKey(h)
	err := s.do(ctx, opCreate, h, func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldMediaType, img.MediaType, fieldData, img.Data)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// Open resolves a live handle.
func (s *RedisStore) Open(ctx context.Context, h Handle) (Image, error) {
	var values map[string]string
	err := s.do(ctx, opOpen, h, func() error {
		var err error
		values, err = s.client.HGetAll(ctx, previewKey(h)).Result()
		return err
	})
	if err != nil {
		return Image{}, err
	}
	data, ok := values[fieldData]
	if !ok {
		return Image{}, ErrUnknownHandle
	}
	return Image{MediaType: values[fieldMediaType], Data: []byte(data)}, nil
}

// Touch restarts the expiry of a live handle.
func (s *RedisStore) Touch(ctx context.Context, h Handle) error {
	var live bool
	err := s.do(ctx, opTouch, h, func() error {
		var err error
		live, err = s.client.Expire(ctx, previewKey(h), s.ttl).Result()
		return err
	})
	if err != nil {
		return err
	}
	if !live {
		return ErrUnknownHandle
	}
	return nil
}

// Release deletes a handle. Releasing twice yields ErrUnknownHandle.
func (s *RedisStore) Release(ctx context.Context, h Handle) error {
	var removed int64
	err := s.do(ctx, opRelease, h, func() error {
		var err error
		removed, err = s.client.Del(ctx, previewKey(h)).Result()
		return err
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrUnknownHandle
	}
	return nil
}

const (
	opCreate  = "preview.redis.create"
	opOpen    = "preview.redis.open"
	opTouch   = "preview.redis.touch"
	opRelease = "preview.redis.release"
)

// retryPolicy bounds how often a Redis command is retried and how long to
// wait between attempts.
type retryPolicy struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

// delay returns the wait before the given zero-based retry.
func (p retryPolicy) delay(retry int) time.Duration {
	d := p.initial << retry
	if d <= 0 || d > p.max {
		return p.max
	}
	return d
}

// do runs cmd for operation op on handle h, retrying transient failures.
// Every failure it returns is an OperationError keyed by the handle.
func (s *RedisStore) do(ctx context.Context, op string, h Handle, cmd func() error) error {
	opLogger := logging.WithOperation(s.logger, op, string(h))

	err := cmd()
	for retry := 0; err != nil && isTransientError(err) && retry < s.retry.attempts-1; retry++ {
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", retry+1))
		select {
		case <-ctx.Done():
			return logging.NewOperationError(op, string(h), ctx.Err())
		case <-time.After(s.retry.delay(retry)):
		}
		if err = cmd(); err == nil {
			opLogger.Info("redis command succeeded after retry", zap.Int("attempt", retry+2))
		}
	}
	if err != nil {
		opLogger.Error("redis command failed", zap.Error(err))
		return logging.NewOperationError(op, string(h), err)
	}
	return nil
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
