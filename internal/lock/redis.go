package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix      = "meistereder:lock:"
	defaultTTL     = 2 * time.Minute
	releaseTimeout = 5 * time.Second
)

// errLost means the key expired or another holder took it over.
var errLost = errors.New("lock: lost")

// Redis is a lock shared by every process talking to the same Redis. A held
// key expires after ttl so a crashed holder cannot block a conversation
// forever. While the holder is alive the key is extended every ttl/3.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	maxWait time.Duration
	log     zerolog.Logger
}

type RedisOption func(*Redis)

// WithLogger receives release and refresh failures.
func WithLogger(log zerolog.Logger) RedisOption {
	return func(r *Redis) { r.log = log }
}

func NewRedis(client *redis.Client, ttl, maxWait time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxWait <= 0 {
		maxWait = ttl
	}
	r := &Redis{client: client, ttl: ttl, maxWait: maxWait, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = r.maxWait

	acquire := func() error {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	log := r.log.With().Str("lock", key).Logger()
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(k, token, stop, done, log)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Fresh context: the turn's context may be done by now.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := r.release(rctx, k, token); err != nil {
				log.Error().Err(err).Msg("lock release failed, key expires on its own")
			}
		})
	}, nil
}

func (r *Redis) keepAlive(k, token string, stop <-chan struct{}, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			err := r.refresh(ctx, k, token)
			cancel()
			if errors.Is(err, errLost) {
				log.Warn().Msg("lock lost while held")
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("lock refresh failed")
			}
		}
	}
}

// ifHeld runs fn in a transaction only while k still carries token.
func (r *Redis) ifHeld(ctx context.Context, k, token string, fn func(redis.Pipeliner)) error {
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		held, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			return errLost
		}
		if err != nil {
			return err
		}
		if held != token {
			return errLost
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(pipe)
			return nil
		})
		return err
	}, k)
}

func (r *Redis) refresh(ctx context.Context, k, token string) error {
	return r.ifHeld(ctx, k, token, func(pipe redis.Pipeliner) {
		pipe.PExpire(ctx, k, r.ttl)
	})
}

// release deletes k if this holder still owns it. A key that already
// expired or changed hands is left alone.
func (r *Redis) release(ctx context.Context, k, token string) error {
	err := r.ifHeld(ctx, k, token, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, k)
	})
	if errors.Is(err, errLost) {
		return nil
	}
	return err
}
