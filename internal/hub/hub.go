// Package hub implements the session hub: one actor per connected
// client, multiplexing protocol control frames and broker fan-out onto
// a single duplex websocket connection.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shopmindai/chatcore/internal/metrics"
	"github.com/shopmindai/chatcore/internal/model"
	"github.com/shopmindai/chatcore/internal/protocol"
)

// Config holds the per-client backpressure knobs; zero values are
// replaced with the defaults below.
type Config struct {
	MaxInflightMessages int
	MaxInflightResults  int
	WorkerTimeout       time.Duration
	MailboxCapacity     int
	ControlCapacity     int

	// MessageRateLimit and MessageRateBurst bound the sustained rate of
	// inbound commands per client, independent of MaxInflightMessages:
	// the semaphore caps concurrently-handled commands, this caps a
	// client that sends faster than handlers can possibly drain even
	// one at a time.
	MessageRateLimit rate.Limit
	MessageRateBurst int
}

const (
	defaultMaxInflightMessages = 64
	defaultMaxInflightResults  = 1024
	defaultWorkerTimeout       = time.Second
	defaultMailboxCapacity     = 256
	defaultControlCapacity     = 256
	defaultMessageRateLimit    = rate.Limit(50)
	defaultMessageRateBurst    = 100

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

func (c Config) withDefaults() Config {
	if c.MessageRateLimit == 0 {
		c.MessageRateLimit = defaultMessageRateLimit
	}
	if c.MessageRateBurst == 0 {
		c.MessageRateBurst = defaultMessageRateBurst
	}
	if c.MaxInflightMessages == 0 {
		c.MaxInflightMessages = defaultMaxInflightMessages
	}
	if c.MaxInflightResults == 0 {
		c.MaxInflightResults = defaultMaxInflightResults
	}
	if c.WorkerTimeout == 0 {
		c.WorkerTimeout = defaultWorkerTimeout
	}
	if c.MailboxCapacity == 0 {
		c.MailboxCapacity = defaultMailboxCapacity
	}
	if c.ControlCapacity == 0 {
		c.ControlCapacity = defaultControlCapacity
	}
	return c
}

// ClientRecord is the hub's bookkeeping for one connected user: the two
// outbound channels a fan-out or ack write lands on, the actor's
// cancellation, and a handle the supervisor waits on at shutdown.
type ClientRecord struct {
	userID  model.UserID
	control chan protocol.S2CEvent
	mailbox chan protocol.S2CEvent
	cancel  context.CancelFunc
	done    chan struct{}
	limiter *rate.Limiter
}

// ErrNotConnected is returned by Enqueue when the receiver has no
// active connection.
var ErrNotConnected = newHubError("not connected")

// ErrBackpressure is returned by Enqueue when the receiver's mailbox is
// full; callers (the broker consumer) may retry.
var ErrBackpressure = newHubError("backpressure retry")

type hubError string

func newHubError(s string) error { return hubError(s) }
func (e hubError) Error() string { return "hub: " + string(e) }

// Hub owns the online-users map: at most one ClientRecord per user,
// guarded by a single RWMutex rather than a concurrent-map library —
// entries are small and lookups dominate, so read-locking the flat map
// is enough at this scale.
type Hub struct {
	cfg Config
	log *logrus.Entry

	dispatcher Dispatcher

	mu      sync.RWMutex
	clients map[model.UserID]*ClientRecord
}

// Dispatcher executes the one recognized inbound command. Production
// wires a *CommandRouter backed by the conversation service; tests
// substitute a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender model.UserID, cmd protocol.C2SCommand) (protocol.S2CEvent, error)
}

func New(cfg Config, dispatcher Dispatcher, log *logrus.Entry) *Hub {
	return &Hub{
		cfg:        cfg.withDefaults(),
		log:        log,
		dispatcher: dispatcher,
		clients:    make(map[model.UserID]*ClientRecord),
	}
}

// Accept installs userID's connection, replacing and cancelling any
// previous record for the same user: a re-login cancels the superseded
// actor explicitly rather than waiting for an eventual write error on
// the old socket. It blocks until the actor tasks finish.
func (h *Hub) Accept(ctx context.Context, userID model.UserID, conn *websocket.Conn) {
	actorCtx, cancel := context.WithCancel(ctx)
	rec := &ClientRecord{
		userID:  userID,
		control: make(chan protocol.S2CEvent, h.cfg.ControlCapacity),
		mailbox: make(chan protocol.S2CEvent, h.cfg.MailboxCapacity),
		cancel:  cancel,
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.cfg.MessageRateLimit, h.cfg.MessageRateBurst),
	}

	h.install(userID, rec)
	defer close(rec.done)
	defer h.remove(userID, rec)

	// Cancellation (a write error, a re-login, or Shutdown) closes the
	// socket so the receiver's blocking read returns too.
	go func() {
		<-actorCtx.Done()
		conn.Close()
	}()

	log := h.log.WithField("user_id", userID)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		h.outboundSender(actorCtx, cancel, conn, rec, log)
	}()
	go func() {
		defer wg.Done()
		h.inboundReceiver(actorCtx, cancel, conn, rec, log)
	}()

	// Actor supervisor: whichever of sender/receiver finishes first
	// cancels the shared token; wait for both before returning so the
	// record is only removed once both tasks are fully stopped.
	wg.Wait()
	conn.Close()
}

// install replaces any existing record for userID, cancelling it so
// its tasks unwind promptly instead of relying on a write failing on
// the now-superseded socket.
func (h *Hub) install(userID model.UserID, rec *ClientRecord) {
	h.mu.Lock()
	old := h.clients[userID]
	h.clients[userID] = rec
	h.mu.Unlock()
	if old == nil {
		metrics.HubConnectedClients.Inc()
	}

	if old != nil {
		old.cancel()
		<-old.done
	}
}

// remove deletes rec from the map, but only if it is still the current
// record for userID (a newer connection may already have replaced it).
func (h *Hub) remove(userID model.UserID, rec *ClientRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == rec {
		delete(h.clients, userID)
		metrics.HubConnectedClients.Dec()
	}
}

// Enqueue serializes event and delivers it to receiver's mailbox
// without blocking. See ErrNotConnected / ErrBackpressure.
func (h *Hub) Enqueue(receiver model.UserID, event protocol.S2CEvent) error {
	h.mu.RLock()
	rec, ok := h.clients[receiver]
	h.mu.RUnlock()
	if !ok {
		metrics.HubEnqueueTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	select {
	case rec.mailbox <- event:
		metrics.HubEnqueueTotal.WithLabelValues("ok").Inc()
		return nil
	default:
		metrics.HubEnqueueTotal.WithLabelValues("backpressure").Inc()
		return ErrBackpressure
	}
}

// Shutdown cancels every connected actor and waits for each to finish.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	recs := make([]*ClientRecord, 0, len(h.clients))
	for _, rec := range h.clients {
		recs = append(recs, rec)
	}
	h.mu.RUnlock()

	for _, rec := range recs {
		rec.cancel()
	}
	for _, rec := range recs {
		select {
		case <-rec.done:
		case <-ctx.Done():
			return
		}
	}
}

// outboundSender reads control (biased over mailbox, so acks and pongs
// cannot be starved by fan-out backlog) then mailbox, and writes JSON
// text frames to the client. Any write error cancels the actor.
func (h *Hub) outboundSender(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, rec *ClientRecord, log *logrus.Entry) {
	defer cancel()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(ev protocol.S2CEvent) bool {
		raw, err := json.Marshal(ev)
		if err != nil {
			log.WithError(err).Error("hub: marshal outbound event")
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.WithError(err).Warn("hub: outbound write failed")
			return false
		}
		return true
	}

	for {
		// Priority drain: control frames never wait behind a mailbox
		// backlog.
		select {
		case ev := <-rec.control:
			if !write(ev) {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case ev := <-rec.control:
			if !write(ev) {
				return
			}
		case ev := <-rec.mailbox:
			if !write(ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Warn("hub: ping write failed")
				return
			}
		}
	}
}

// inboundReceiver reads client frames and dispatches each to a handler
// task, enforcing the rate limiter and the two backpressure semaphores.
func (h *Hub) inboundReceiver(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, rec *ClientRecord, log *logrus.Entry) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	workerSem := make(chan struct{}, h.cfg.MaxInflightMessages)
	resultSem := make(chan struct{}, h.cfg.MaxInflightResults)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.CloseMessage {
			return
		}
		if msgType != websocket.TextMessage {
			h.notify(rec, "malformed message: binary frames are not accepted")
			continue
		}

		cmd, err := protocol.ParseC2SCommand(raw)
		if err != nil {
			h.notify(rec, "malformed message")
			continue
		}

		if !rec.limiter.Allow() {
			metrics.HubInboundThrottleTotal.WithLabelValues("rate_limit").Inc()
			h.notify(rec, "throttled: sustained message rate exceeded")
			continue
		}

		select {
		case workerSem <- struct{}{}:
		default:
			metrics.HubInboundThrottleTotal.WithLabelValues("worker_backlog").Inc()
			h.notify(rec, "throttled: too many in-flight commands")
			continue
		}

		select {
		case resultSem <- struct{}{}:
		default:
			<-workerSem
			metrics.HubInboundThrottleTotal.WithLabelValues("result_backlog").Inc()
			h.notify(rec, "throttled: too many pending results")
			continue
		}

		wg.Add(1)
		go func(cmd protocol.C2SCommand) {
			defer wg.Done()
			defer func() { <-workerSem }()
			defer func() { <-resultSem }()
			h.runHandler(ctx, rec, cmd, log)
		}(cmd)
	}
}

// runHandler dispatches one command under a per-task timeout, pushing
// its ack (or nothing, on a logged failure) onto the control channel.
// The sender is always rec.userID, the identity bound to this actor at
// Accept time — never anything read off the wire.
func (h *Hub) runHandler(ctx context.Context, rec *ClientRecord, cmd protocol.C2SCommand, log *logrus.Entry) {
	taskCtx, cancel := context.WithTimeout(ctx, h.cfg.WorkerTimeout)
	defer cancel()

	done := make(chan struct{})
	var ack protocol.S2CEvent
	var err error
	go func() {
		ack, err = h.dispatcher.Dispatch(taskCtx, rec.userID, cmd)
		close(done)
	}()

	select {
	case <-done:
	case <-taskCtx.Done():
		log.WithField("type", cmd.Type).Warn("hub: handler timed out")
		return
	}

	if err != nil {
		log.WithError(err).WithField("type", cmd.Type).Info("hub: command dropped")
		return
	}

	select {
	case rec.control <- ack:
	default:
		log.Warn("hub: control channel full, dropping ack")
	}
}

// notify best-effort enqueues a plain-text control notice; the
// protocol has no structured error frame.
func (h *Hub) notify(rec *ClientRecord, msg string) {
	ev := protocol.S2CEvent{Type: "notice", Content: json.RawMessage(`"` + msg + `"`)}
	select {
	case rec.control <- ev:
	default:
	}
}
