package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"rule_server/adapter/in/worker"
	"rule_server/pkg/logger"
)

// Submitter accepts decoded jobs. *worker.Pool satisfies it.
type Submitter interface {
	Submit(msg *worker.Message) bool
}

var errPoolUnavailable = errors.New("worker pool not accepting jobs")

type Consumer struct {
	stream *RedisStream
	sink   Submitter
	name   string
	log    *logger.Logger
	wg     sync.WaitGroup
}

func NewConsumer(stream *RedisStream, sink Submitter, name string) *Consumer {
	return &Consumer{
		stream: stream,
		sink:   sink,
		name:   name,
		log:    logger.WithFields(map[string]any{"component": "stream_consumer", "consumer": name}),
	}
}

// Start creates the consumer groups and starts one reader per stream.
func (c *Consumer) Start(ctx context.Context) error {
	streams := []string{StreamRulesRun}
	for _, s := range streams {
		if err := c.stream.CreateGroup(ctx, s); err != nil {
			return err
		}
	}

	for _, s := range streams {
		c.wg.Add(1)
		go func(stream string) {
			defer c.wg.Done()
			c.consume(ctx, stream)
		}(s)
	}
	c.log.Info("consuming %d streams", len(streams))
	return nil
}

// Wait blocks until every reader has returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context, stream string) {
	c.stream.Consume(ctx, stream, c.name, c.handle)
}

func (c *Consumer) handle(e Entry) error {
	var job Job
	if err := json.Unmarshal(e.Data, &job); err != nil {
		// undecodable entries are acked and dropped
		c.log.WithError(err).Error("failed to unmarshal job %s", e.ID)
		c.stream.Ack(e.Stream, e.ID)
		return nil
	}

	msg := &worker.Message{
		ID:        job.ID,
		Type:      job.Type,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
		Ack: func() {
			c.stream.Ack(e.Stream, e.ID)
		},
	}

	if !c.sink.Submit(msg) {
		return errPoolUnavailable
	}
	return nil
}
