package broker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/hub"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
)

// OutboundQueue is the session hub's enqueue surface, as seen by the
// fan-out handler. A hub is the only production implementation; tests
// can substitute a fake to assert on what was enqueued.
type OutboundQueue interface {
	Enqueue(receiver model.UserID, event protocol.S2CEvent) error
}

// FanoutHandler delivers each outbox event to every connected receiver
// it names. An offline receiver is logged and skipped — it never blocks
// the rest of the batch, and the message is still committed: once
// observed by the consumer, delivery to the hub layer is considered
// complete (offline clients replay history on reconnect instead of
// receiving a queued event). A receiver whose mailbox is merely full is
// different: the client is connected and will drain, so the handler
// asks for a redelivery instead of dropping the event.
type FanoutHandler struct {
	queue OutboundQueue
	log   *logrus.Entry
}

func NewFanoutHandler(queue OutboundQueue, log *logrus.Entry) *FanoutHandler {
	return &FanoutHandler{queue: queue, log: log}
}

func (h *FanoutHandler) Handle(ctx context.Context, payload []byte) (HandleOutcome, error) {
	var envelope protocol.S2CEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// A payload that does not parse now will never parse; retrying
		// would wedge the partition behind one poison message.
		h.log.WithError(err).Error("undecodable envelope, skipping")
		return SkipCommit, nil
	}

	sawBackpressure := false
	for _, receiver := range envelope.Receivers {
		err := h.queue.Enqueue(receiver, envelope.Body)
		switch {
		case err == nil:
		case errors.Is(err, hub.ErrBackpressure):
			sawBackpressure = true
			h.log.WithField("receiver", receiver).Warn("mailbox full, requesting redelivery")
		default:
			h.log.WithError(err).WithField("receiver", receiver).Debug("receiver offline, dropped")
		}
	}

	if sawBackpressure {
		return Retry, nil
	}
	return Commit, nil
}
