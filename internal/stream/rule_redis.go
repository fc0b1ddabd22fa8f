// Package stream carries background jobs over Redis Streams.
package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"rule_server/pkg/logger"
)

const (
	StreamRulesRun = "rules:run"

	deadSuffix = ":dead"
	ackTimeout = 5 * time.Second
)

// DeadStream names the stream that holds entries of stream which exceeded
// their delivery budget.
func DeadStream(stream string) string {
	return stream + deadSuffix
}

// Config tunes consumer reads and redelivery.
type Config struct {
	Group string
	Count int64
	Block time.Duration

	// ClaimIdle is how long an entry stays pending before any consumer may
	// take it over. It must exceed the longest a job can spend in the pool.
	ClaimIdle     time.Duration
	ClaimInterval time.Duration
	// MaxDeliveries moves an entry to the dead stream once exceeded; 0 never does.
	MaxDeliveries int64
}

// Entry is one stream entry handed to a consumer.
type Entry struct {
	Stream string
	ID     string
	Data   []byte
}

// EntryHandler takes ownership of an entry by returning nil and must then
// call Ack once the entry is finished. A non-nil error leaves it pending.
type EntryHandler func(e Entry) error

type RedisStream struct {
	client *redis.Client
	cfg    Config
	log    *logger.Logger
}

func NewRedisStream(client *redis.Client, cfg Config) *RedisStream {
	if cfg.Group == "" {
		cfg.Group = "rule-workers"
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 10 * time.Minute
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Minute
	}
	return &RedisStream{
		client: client,
		cfg:    cfg,
		log:    logger.WithField("component", "redis_stream"),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume hands entries of stream to handler until ctx is done. It first
// replays the entries still pending for consumer from an earlier run, then
// reads new ones, periodically claiming entries other consumers left idle.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler EntryHandler) {
	s.replayPending(ctx, stream, consumer, handler)
	lastClaim := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		if time.Since(lastClaim) >= s.cfg.ClaimInterval {
			s.Reclaim(ctx, stream, consumer, handler)
			lastClaim = time.Now()
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    s.cfg.Count,
			Block:    s.blockFor(),
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.log.WithError(err).Warn("stream read error on %s", stream)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.dispatch(ctx, st.Stream, msg, handler, false)
			}
		}
	}
}

// blockFor keeps reads short enough to claim on schedule.
func (s *RedisStream) blockFor() time.Duration {
	if s.cfg.ClaimInterval < s.cfg.Block {
		return s.cfg.ClaimInterval
	}
	return s.cfg.Block
}

func (s *RedisStream) replayPending(ctx context.Context, stream, consumer string, handler EntryHandler) {
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: consumer,
			Streams:  []string{stream, cursor},
			Count:    s.cfg.Count,
			Block:    -1,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				s.log.WithError(err).Warn("failed to read pending entries on %s", stream)
			}
			return
		}

		var n int
		for _, st := range streams {
			for _, msg := range st.Messages {
				s.dispatch(ctx, st.Stream, msg, handler, true)
				cursor = msg.ID
				n++
			}
		}
		if n == 0 {
			return
		}
		s.log.Info("replayed %d pending entries on %s", n, stream)
	}
}

// Reclaim takes over entries of stream that have been pending longer than
// ClaimIdle, whichever consumer they were delivered to.
func (s *RedisStream) Reclaim(ctx context.Context, stream, consumer string, handler EntryHandler) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    s.cfg.Group,
			Consumer: consumer,
			MinIdle:  s.cfg.ClaimIdle,
			Start:    start,
			Count:    s.cfg.Count,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				s.log.WithError(err).Warn("failed to claim idle entries on %s", stream)
			}
			return
		}

		for _, msg := range msgs {
			s.dispatch(ctx, stream, msg, handler, true)
		}
		if len(msgs) > 0 {
			s.log.Info("claimed %d idle entries on %s", len(msgs), stream)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (s *RedisStream) dispatch(ctx context.Context, stream string, msg redis.XMessage, handler EntryHandler, redelivered bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		s.log.Warn("entry %s on %s has no data field", msg.ID, stream)
		s.Ack(stream, msg.ID)
		return
	}

	if redelivered && s.cfg.MaxDeliveries > 0 {
		deliveries, err := s.deliveries(ctx, stream, msg.ID)
		if err != nil {
			s.log.WithError(err).Warn("failed to read delivery count for %s", msg.ID)
		} else if deliveries > s.cfg.MaxDeliveries {
			s.deadLetter(ctx, stream, msg.ID, data, deliveries)
			return
		}
	}

	if err := handler(Entry{Stream: stream, ID: msg.ID, Data: []byte(data)}); err != nil {
		s.log.WithError(err).Warn("entry %s left pending", msg.ID)
	}
}

func (s *RedisStream) deliveries(ctx context.Context, stream, id string) (int64, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  s.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (s *RedisStream) deadLetter(ctx context.Context, stream, id, data string, deliveries int64) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: DeadStream(stream),
			Values: map[string]any{
				"data":       data,
				"source_id":  id,
				"deliveries": deliveries,
			},
		})
		pipe.XAck(ctx, stream, s.cfg.Group, id)
		return nil
	})
	if err != nil {
		s.log.WithError(err).Error("failed to dead-letter %s", id)
		return
	}
	s.log.WithFields(map[string]any{
		"entry_id":   id,
		"deliveries": deliveries,
	}).Error("entry exceeded delivery budget, moved to %s", DeadStream(stream))
}

// Ack acknowledges an entry. It runs on its own deadline since jobs finish
// after the consumer's context may already be cancelled.
func (s *RedisStream) Ack(stream, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	if err := s.client.XAck(ctx, stream, s.cfg.Group, id).Err(); err != nil {
		s.log.WithError(err).Warn("ack failed for %s", id)
	}
}

func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.cfg.Group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
