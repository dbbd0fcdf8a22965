// Package broker consumes the chat events topic with manual offset
// commit and dispatches each envelope to the fan-out handler.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// HandleOutcome mirrors the three ways a handler can leave a message:
// commit and move on, skip-commit (still move on, e.g. a poison
// message that the handler chose not to retry), or retry without
// committing.
type HandleOutcome int

const (
	Commit HandleOutcome = iota
	SkipCommit
	Retry
)

// Handler processes one raw message payload.
type Handler interface {
	Handle(ctx context.Context, payload []byte) (HandleOutcome, error)
}

const (
	pollErrorBackoff  = 200 * time.Millisecond
	retryBackoff      = 50 * time.Millisecond
	handlerErrBackoff = 100 * time.Millisecond
)

// Consumer wraps a kafka-go Reader configured for manual commit
// (FetchMessage never advances the committed offset on its own;
// CommitMessages does) and earliest-offset reset, matching the
// consume-then-decide control flow the fan-out handler needs.
type Consumer struct {
	reader *kafka.Reader
	log    *logrus.Entry
}

func NewConsumer(brokers []string, topic, groupID string, log *logrus.Entry) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader, log: log}
}

// Run fetches and dispatches messages until ctx is cancelled. A handler
// error or a Retry outcome re-runs the handler on the same message
// after a short backoff; the message is committed once the handler
// answers Commit or SkipCommit.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	defer c.reader.Close()

	for {
		if ctx.Err() != nil {
			c.log.Info("broker consumer shutting down")
			return nil
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.WithError(err).Warn("consumer poll error")
			time.Sleep(pollErrorBackoff)
			continue
		}

		for {
			outcome, err := handler.Handle(ctx, msg.Value)
			if err == nil && outcome != Retry {
				if err := c.reader.CommitMessages(ctx, msg); err != nil {
					c.log.WithError(err).Warn("commit failed but ignored")
				}
				break
			}
			if err != nil {
				c.log.WithError(err).Error("handler error; retrying")
				time.Sleep(handlerErrBackoff)
			} else {
				time.Sleep(retryBackoff)
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
}
