package broker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopmindai/chatcore/internal/broker"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/outbox"
	"github.com/shopmindai/chatcore/internal/protocol"
	"github.com/shopmindai/chatcore/internal/testutil"
)

type recordingQueue struct {
	enqueued chan protocol.S2CEvent
}

func (q *recordingQueue) Enqueue(receiver model.UserID, event protocol.S2CEvent) error {
	q.enqueued <- event
	return nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(l)
}

// TestPublishAndConsume_RoundTripsThroughRealKafka exercises the whole
// outbox-to-hub wire path against a real broker: kafka-go's Writer
// framing and the Reader's manual-commit consume loop are exactly what
// this module depends on, so a fake here would leave the one part of
// the pipeline most likely to break silently (wire compatibility,
// consumer-group offset semantics) untested.
func TestPublishAndConsume_RoundTripsThroughRealKafka(t *testing.T) {
	kf := testutil.NewKafkaFixture(t)
	topic := fmt.Sprintf("chat.events.test.%d", time.Now().UnixNano())

	publisher := outbox.NewKafkaPublisher(kf.Brokers)
	defer publisher.Close()

	receiver := model.NewID()
	envelope := protocol.S2CEnvelope{
		Receivers: []model.UserID{receiver},
		Body: protocol.NewFriendshipNew(protocol.FriendshipNew{
			ConversationID: model.NewID(),
			Other:          model.NewID(),
			Username:       "alice",
		}),
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, publisher.Publish(ctx, topic, []byte(receiver.String()), payload))

	queue := &recordingQueue{enqueued: make(chan protocol.S2CEvent, 1)}
	handler := broker.NewFanoutHandler(queue, testLogger())
	consumer := broker.NewConsumer(kf.Brokers, topic, "chatcore-test-group", testLogger())

	consumeCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(consumeCtx, handler) }()

	select {
	case ev := <-queue.enqueued:
		assert.Equal(t, protocol.TypeFriendshipNew, ev.Type)
	case <-time.After(20 * time.Second):
		t.Fatal("event was not fanned out within the deadline")
	}

	stopConsumer()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not shut down after cancel")
	}
}
