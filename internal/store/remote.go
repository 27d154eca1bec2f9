package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"staffroom/internal/metrics"
)

// RemoteBackend serves the Backend contract from the shared store. Every call
// carries a bounded timeout; on connectivity failure the call is answered
// from the embedded LocalBackend so a slow or dead shared store never stalls
// a caller. The failover is logged once per outage and tracked by the
// degraded-mode metric.
type RemoteBackend struct {
	rdb      *redis.Client
	fallback *LocalBackend
	timeout  time.Duration
	degraded atomic.Bool
}

func NewRemote(ctx context.Context, url string, timeout time.Duration) (*RemoteBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 50
	opt.MaxIdleConns = 10
	opt.DialTimeout = timeout
	opt.ReadTimeout = timeout
	opt.WriteTimeout = timeout

	b := &RemoteBackend{
		rdb:      redis.NewClient(opt),
		fallback: NewLocal(ctx),
		timeout:  timeout,
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := b.rdb.Ping(pingCtx).Err(); err != nil {
		b.markDegraded(err)
	} else {
		log.Info().Msg("shared store connection established")
	}

	return b, nil
}

func (b *RemoteBackend) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func (b *RemoteBackend) markDegraded(err error) {
	if b.degraded.CompareAndSwap(false, true) {
		log.Warn().Err(err).Msg("shared store unreachable, serving from local fallback")
		metrics.DegradedMode.Set(1)
	}
}

func (b *RemoteBackend) markHealthy() {
	if b.degraded.CompareAndSwap(true, false) {
		log.Info().Msg("shared store reachable again")
		metrics.DegradedMode.Set(0)
	}
}

func (b *RemoteBackend) Get(ctx context.Context, key string) (string, bool) {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	v, err := b.rdb.Get(cctx, key).Result()
	if err == redis.Nil {
		b.markHealthy()
		return "", false
	}
	if err != nil {
		b.markDegraded(err)
		return b.fallback.Get(ctx, key)
	}
	b.markHealthy()
	return v, true
}

func (b *RemoteBackend) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	if err := b.rdb.Set(cctx, key, value, ttl).Err(); err != nil {
		b.markDegraded(err)
		// Write through to the fallback so degraded reads still see it.
		b.fallback.SetWithTTL(ctx, key, value, ttl)
		return
	}
	b.markHealthy()
}

func (b *RemoteBackend) Del(ctx context.Context, key string) {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	if err := b.rdb.Del(cctx, key).Err(); err != nil {
		b.markDegraded(err)
		b.fallback.Del(ctx, key)
		return
	}
	b.markHealthy()
}

func (b *RemoteBackend) Incr(ctx context.Context, key string) int64 {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	n, err := b.rdb.Incr(cctx, key).Result()
	if err != nil {
		b.markDegraded(err)
		return b.fallback.Incr(ctx, key)
	}
	b.markHealthy()
	return n
}

func (b *RemoteBackend) DecrFloor(ctx context.Context, key string) int64 {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	n, err := b.rdb.Decr(cctx, key).Result()
	if err != nil {
		b.markDegraded(err)
		return b.fallback.DecrFloor(ctx, key)
	}
	b.markHealthy()
	if n < 0 {
		// Clamp concurrent over-decrements. The reset races with other
		// decrements but the floor is re-applied on every call.
		b.rdb.Set(cctx, key, "0", redis.KeepTTL)
		return 0
	}
	return n
}

func (b *RemoteBackend) Expire(ctx context.Context, key string, ttl time.Duration) {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	if err := b.rdb.Expire(cctx, key, ttl).Err(); err != nil {
		b.markDegraded(err)
		b.fallback.Expire(ctx, key, ttl)
		return
	}
	b.markHealthy()
}

func (b *RemoteBackend) ScanByPrefix(ctx context.Context, prefix string) []string {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	keys, err := b.rdb.Keys(cctx, prefix+"*").Result()
	if err != nil {
		b.markDegraded(err)
		return b.fallback.ScanByPrefix(ctx, prefix)
	}
	b.markHealthy()
	return keys
}

func (b *RemoteBackend) PipelinedGet(ctx context.Context, keys []string) map[string]string {
	if len(keys) == 0 {
		return map[string]string{}
	}

	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	pipe := b.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, k := range keys {
		cmds[k] = pipe.Get(cctx, k)
	}
	if _, err := pipe.Exec(cctx); err != nil && err != redis.Nil {
		b.markDegraded(err)
		return b.fallback.PipelinedGet(ctx, keys)
	}
	b.markHealthy()

	result := make(map[string]string, len(keys))
	for k, cmd := range cmds {
		if v, err := cmd.Result(); err == nil {
			result[k] = v
		}
	}
	return result
}

func (b *RemoteBackend) Publish(ctx context.Context, channel, payload string) int64 {
	cctx, cancel := b.callCtx(ctx)
	defer cancel()

	n, err := b.rdb.Publish(cctx, channel, payload).Result()
	if err != nil {
		b.markDegraded(err)
		return b.fallback.Publish(ctx, channel, payload)
	}
	b.markHealthy()
	return n
}

// Subscribe registers handler both on the shared store subscription and on
// the local fallback registry. Healthy publishes arrive through the shared
// store stream; failed-over publishes arrive through the local registry, so
// same-instance fan-out keeps working with the shared store down.
func (b *RemoteBackend) Subscribe(channel string, handler func(channel, payload string)) Subscription {
	local := b.fallback.Subscribe(channel, handler)

	sub := b.rdb.Subscribe(context.Background(), channel)
	go func() {
		for msg := range sub.Channel() {
			handler(msg.Channel, msg.Payload)
		}
	}()

	return &remoteSubscription{remote: sub, local: local}
}

func (b *RemoteBackend) Degraded() bool { return b.degraded.Load() }

func (b *RemoteBackend) Close() error { return b.rdb.Close() }

type remoteSubscription struct {
	remote *redis.PubSub
	local  Subscription
}

func (s *remoteSubscription) Unsubscribe() {
	_ = s.remote.Close()
	s.local.Unsubscribe()
}
