package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/metrics"
	"github.com/shopmindai/chatcore/internal/storage"
)

const (
	defaultClaimBatchSize = 256
	defaultEmptyBatchWait = 200 * time.Millisecond
	defaultRetryBackoff   = 2 * time.Second
)

// Config bounds one notifier loop; zero values take the defaults
// above. RetryBackoff is a fixed, non-decreasing delay between publish
// attempts for the same event.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = defaultClaimBatchSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultEmptyBatchWait
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	return c
}

// Notifier is the single-threaded claim-publish-commit loop described
// by the outbox pattern: a state change and the event reporting it are
// written in one transaction, and a separate loop drains that table at
// least once per event.
type Notifier struct {
	db        *sql.DB
	cfg       Config
	outbox    *storage.OutboxRepo
	publisher Publisher
	topic     string
	log       *logrus.Entry
}

func NewNotifier(db *sql.DB, cfg Config, publisher Publisher, topic string, log *logrus.Entry) *Notifier {
	return &Notifier{
		db:        db,
		cfg:       cfg.withDefaults(),
		outbox:    storage.NewOutboxRepo(),
		publisher: publisher,
		topic:     topic,
		log:       log,
	}
}

type wireEnvelope struct {
	Receivers json.RawMessage `json:"receivers"`
	Body      json.RawMessage `json:"body"`
}

// Run drives tickOnce until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.log.Info("notifier shutting down")
			return
		default:
		}

		if err := n.tickOnce(ctx); err != nil {
			n.log.WithError(err).Error("notifier tick failed")
		}
	}
}

func (n *Notifier) tickOnce(ctx context.Context) error {
	tx, err := n.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	batch, err := n.outbox.ClaimReadyBatchInTx(ctx, tx, now, n.cfg.BatchSize)
	if err != nil {
		return err
	}

	metrics.OutboxBatchSize.Observe(float64(len(batch)))

	if len(batch) == 0 {
		if err := tx.Commit(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(n.cfg.PollInterval):
		}
		return nil
	}

	for _, ev := range batch {
		key := ev.EventID.String()
		if ev.PartitionKey != nil {
			key = *ev.PartitionKey
		}

		envelope, err := json.Marshal(wireEnvelope{Receivers: ev.ReceiversJSON, Body: ev.PayloadJSON})
		if err != nil {
			n.log.WithError(err).WithField("event_id", ev.EventID).Error("marshal outbox envelope")
			continue
		}

		pubErr := n.publisher.Publish(ctx, n.topic, []byte(key), envelope)
		if pubErr == nil {
			metrics.OutboxPublishTotal.WithLabelValues("delivered").Inc()
			if err := n.outbox.MarkDeliveredInTx(ctx, tx, ev.EventID, time.Now().UTC()); err != nil {
				return err
			}
			continue
		}

		metrics.OutboxPublishTotal.WithLabelValues("retry").Inc()
		n.log.WithError(pubErr).WithField("event_id", ev.EventID).Warn("publish failed, rescheduling")
		next := time.Now().UTC().Add(n.cfg.RetryBackoff)
		if err := n.outbox.RescheduleInTx(ctx, tx, ev.EventID, next, pubErr.Error()); err != nil {
			return err
		}
	}

	return tx.Commit()
}
