package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/usecase/queue"
)

const (
	SubjectPush         = "push"
	SubjectConnectivity = "connectivity"
	SubjectSync         = "sync"
)

// Handler receives the signals delivered over NATS.
type Handler interface {
	OnPush(ctx context.Context, payload offline.PushPayload) (offline.Notification, error)
	OnReconnect(ctx context.Context) (queue.Result, error)
	OnOffline(ctx context.Context)
	OnSync(ctx context.Context, tag string) (queue.Result, error)
}

type connectivityMessage struct {
	Online *bool `json:"online"`
}

type syncMessage struct {
	Tag string `json:"tag"`
}

// Subscriber maps <prefix>.push, <prefix>.connectivity and <prefix>.sync
// onto a Handler.
type Subscriber struct {
	conn    *nats.Conn
	prefix  string
	handler Handler

	mu   sync.Mutex
	subs []*nats.Subscription
	base context.Context
}

// Connect dials url with unlimited reconnects.
func Connect(url string, name string) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is required")
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", url)
	}
	return conn, nil
}

func NewSubscriber(conn *nats.Conn, prefix string, handler Handler) *Subscriber {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "stash"
	}
	return &Subscriber{conn: conn, prefix: prefix, handler: handler}
}

// Subject returns the full subject name for a suffix.
func (s *Subscriber) Subject(suffix string) string {
	return s.prefix + "." + suffix
}

// Start subscribes to every subject. Handlers run with a context derived
// from ctx that outlives the Start call.
func (s *Subscriber) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.conn == nil {
		return errors.New("nats connection is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = context.WithoutCancel(ctx)

	for _, suffix := range []string{SubjectPush, SubjectConnectivity, SubjectSync} {
		subject := s.Subject(suffix)
		sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
			if err := s.Handle(s.base, msg.Subject, msg.Data); err != nil {
				logging.Warn(logging.WithComponent(s.base, "messaging.nats"), "handle message failed",
					slog.String("subject", msg.Subject),
					slog.Any("err", errs.Loggable(err)),
				)
			}
		})
		if err != nil {
			s.unsubscribeLocked()
			return errs.Wrapf(err, "subscribe %s", subject)
		}
		s.subs = append(s.subs, sub)
	}

	logging.Info(logging.WithComponent(ctx, "messaging.nats"), "nats subscriber started", slog.String("prefix", s.prefix))
	return nil
}

// Close removes every subscription. The connection stays open.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// Handle dispatches one message body by subject.
func (s *Subscriber) Handle(ctx context.Context, subject string, data []byte) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(logging.WithComponent(ctx, "messaging.nats"), slog.String("subject", subject))

	switch strings.TrimPrefix(subject, s.prefix+".") {
	case SubjectPush:
		var payload offline.PushPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return errs.Wrap(err, "decode push payload")
		}
		_, err := s.handler.OnPush(logCtx, payload)
		return err

	case SubjectConnectivity:
		var msg connectivityMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return errs.Wrap(err, "decode connectivity message")
		}
		if msg.Online == nil {
			return errors.New("connectivity message requires online")
		}
		if !*msg.Online {
			s.handler.OnOffline(logCtx)
			return nil
		}
		res, err := s.handler.OnReconnect(logCtx)
		if err != nil {
			return err
		}
		logging.Info(logCtx, "reconnect flush done",
			slog.Int("succeeded", res.Succeeded),
			slog.Int("remaining", res.Remaining),
		)
		return nil

	case SubjectSync:
		var msg syncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return errs.Wrap(err, "decode sync message")
		}
		_, err := s.handler.OnSync(logCtx, msg.Tag)
		return err

	default:
		return fmt.Errorf("unexpected subject %q", subject)
	}
}
