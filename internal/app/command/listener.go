package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	listenerQueue  = "krunklink-commands"
	requestTimeout = 15 * time.Second
)

// Reply is the answer to a chat message. Ignored replies must not be posted.
type Reply struct {
	Reply   string `json:"reply,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

// Listener answers chat messages forwarded by the gateway over NATS request/reply.
type Listener struct {
	conn    *nats.Conn
	subject string
	router  *Router
	logger  *zap.Logger
	sub     *nats.Subscription
}

// NewListener creates a listener for subject.
func NewListener(conn *nats.Conn, subject string, router *Router, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		conn:    conn,
		subject: subject,
		router:  router,
		logger:  logger,
	}
}

// Start subscribes in a queue group so replicas share the load.
func (l *Listener) Start() error {
	sub, err := l.conn.QueueSubscribe(l.subject, listenerQueue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		data, err := l.handle(ctx, msg.Data)
		if err != nil {
			l.logger.Warn("dropping malformed command request", zap.Error(err))
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(data); err != nil {
			l.logger.Error("failed to respond to command request", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.subject, err)
	}

	l.sub = sub
	l.logger.Info("listening for chat commands", zap.String("subject", l.subject))
	return nil
}

// Stop drains the subscription so in-flight requests are answered.
func (l *Listener) Stop() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

func (l *Listener) handle(ctx context.Context, data []byte) ([]byte, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode command request: %w", err)
	}
	if msg.Identity == "" {
		return nil, fmt.Errorf("decode command request: missing identity")
	}

	reply, ok := l.router.Handle(ctx, msg)
	return json.Marshal(Reply{Reply: reply, Ignored: !ok})
}
