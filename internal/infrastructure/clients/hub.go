package clients

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

const (
	FrameNotification      = "notification"
	FrameClaim             = "claim"
	FrameNavigate          = "navigate"
	FrameNotificationClick = "notificationclick"
)

var ErrNoClients = errors.New("no open clients")

const writeTimeout = 5 * time.Second

// Frame is the JSON envelope exchanged with an open page.
type Frame struct {
	Type         string                `json:"type"`
	URL          string                `json:"url,omitempty"`
	Action       string                `json:"action,omitempty"`
	Notification *offline.Notification `json:"notification,omitempty"`
}

// ClickHandler receives notification clicks reported by a page.
type ClickHandler func(ctx context.Context, action string, url string) error

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(frame)
}

// Hub tracks pages connected over websocket and stands in for the browser
// clients API and the notification surface.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	peers   []*peer
	onClick ClickHandler
}

var (
	_ ports.ClientRegistry = (*Hub)(nil)
	_ ports.Notifier       = (*Hub)(nil)
)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// OnClick installs the handler for notificationclick frames.
func (h *Hub) OnClick(fn ClickHandler) {
	h.mu.Lock()
	h.onClick = fn
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(logging.WithComponent(r.Context(), "clients.hub"), "websocket upgrade failed",
			slog.Any("err", errs.Loggable(err)),
		)
		return
	}
	p := &peer{conn: conn}
	h.add(p)
	defer func() {
		h.remove(p)
		_ = conn.Close()
	}()

	ctx := logging.WithComponent(context.WithoutCancel(r.Context()), "clients.hub")
	logging.Debug(ctx, "client connected", slog.Int("clients", h.Count()))
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug(ctx, "client read ended", slog.Any("err", errs.Loggable(err)))
			}
			return
		}
		h.dispatch(ctx, frame)
	}
}

func (h *Hub) dispatch(ctx context.Context, frame Frame) {
	switch strings.TrimSpace(frame.Type) {
	case FrameNotificationClick:
		h.mu.Lock()
		fn := h.onClick
		h.mu.Unlock()
		if fn == nil {
			return
		}
		if err := fn(ctx, frame.Action, frame.URL); err != nil {
			logging.Warn(ctx, "notification click failed",
				slog.String("action", frame.Action),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	default:
		logging.Debug(ctx, "ignored client frame", slog.String("type", frame.Type))
	}
}

// Claim tells every open page it is now controlled and returns the count.
func (h *Hub) Claim(ctx context.Context) int {
	return h.broadcast(ctx, Frame{Type: FrameClaim})
}

// OpenWindow navigates the most recently connected page to url.
func (h *Hub) OpenWindow(ctx context.Context, url string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	h.mu.Lock()
	var target *peer
	if n := len(h.peers); n > 0 {
		target = h.peers[n-1]
	}
	h.mu.Unlock()

	if target == nil {
		return ErrNoClients
	}
	if err := target.write(Frame{Type: FrameNavigate, URL: url}); err != nil {
		return errs.Wrap(err, "send navigate frame")
	}
	return nil
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ShowNotification delivers n to every open page. With no pages open the
// notification is logged and dropped.
func (h *Hub) ShowNotification(ctx context.Context, n offline.Notification) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	delivered := h.broadcast(ctx, Frame{Type: FrameNotification, Notification: &n})
	logging.Info(logging.WithComponent(ctx, "clients.hub"), "notification shown",
		slog.String("title", n.Title),
		slog.Int("delivered", delivered),
	)
	return nil
}

func (h *Hub) broadcast(ctx context.Context, frame Frame) int {
	h.mu.Lock()
	peers := append([]*peer(nil), h.peers...)
	h.mu.Unlock()

	delivered := 0
	for _, p := range peers {
		if err := p.write(frame); err != nil {
			logging.Debug(logging.WithComponent(ctx, "clients.hub"), "client write failed",
				slog.String("type", frame.Type),
				slog.Any("err", errs.Loggable(err)),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.peers {
		if existing == p {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return
		}
	}
}
