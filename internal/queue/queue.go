// Package queue moves raw firehose frames between the ingest and sieve
// workers over NATS JetStream, providing at-least-once delivery with
// explicit acknowledgment.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "FIREHOSE"
	subject    = "firehose.frames"
)

// Queue is a handle over the frame stream. Lifecycle is explicit: Connect
// builds it, Close tears it down.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	logger *slog.Logger
}

// Connect dials NATS and asserts the frame stream, retrying until the
// timeout window closes. A queue that cannot be reached within the window is
// a startup-fatal condition for the caller.
func Connect(ctx context.Context, url, clientName string, timeout time.Duration, logger *slog.Logger) (*Queue, error) {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		q, err := connect(ctx, url, clientName, logger)
		if err == nil {
			logger.Info("connected to message queue", "url", url)
			return q, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect message queue within %s: %w", timeout, lastErr)
		}

		logger.Warn("message queue connection failed, retrying", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func connect(ctx context.Context, url, clientName string, logger *slog.Logger) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name(clientName))
	if err != nil {
		return nil, fmt.Errorf("dial nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("assert stream: %w", err)
	}

	return &Queue{nc: nc, js: js, stream: stream, logger: logger}, nil
}

// Publish sends one raw frame to the stream.
func (q *Queue) Publish(ctx context.Context, frame []byte) error {
	if _, err := q.js.Publish(ctx, subject, frame); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// Consume delivers frames to the handler one at a time. A frame is
// acknowledged only after the handler returns nil, so a crash mid-handler
// causes redelivery; handlers must therefore be idempotent. A handler error
// nacks the frame for redelivery.
func (q *Queue) Consume(ctx context.Context, durable string, handler func(ctx context.Context, frame []byte) error) (jetstream.ConsumeContext, error) {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("assert consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Data()); err != nil {
			q.logger.Error("frame handler failed, requeueing", "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				q.logger.Error("failed to nack frame", "error", nakErr)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			q.logger.Error("failed to ack frame", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	return cc, nil
}

// Close drains the connection.
func (q *Queue) Close() {
	if err := q.nc.Drain(); err != nil {
		q.logger.Error("failed to drain nats connection", "error", err)
	}
}
