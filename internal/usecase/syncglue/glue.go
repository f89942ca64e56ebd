package syncglue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
	"stashworker/internal/retry"
	"stashworker/internal/usecase/queue"
)

// SyncTagOfflineQueue is the background-sync tag that flushes the queue.
const SyncTagOfflineQueue = "sync-offline-queue"

// ErrFailuresRemain reports a flush that gave up with actions still failing.
var ErrFailuresRemain = errors.New("queued actions still failing")

// Processor flushes the offline queue.
type Processor interface {
	ProcessQueue(ctx context.Context) (queue.Result, error)
}

// Glue turns connectivity, sync, push and notification events into queue
// flushes and user-visible actions.
type Glue struct {
	queue    Processor
	conn     ports.ConnectivityState
	notifier ports.Notifier
	clients  ports.ClientRegistry
	policy   retry.Policy
}

func New(q Processor, conn ports.ConnectivityState, notifier ports.Notifier, clients ports.ClientRegistry, policy retry.Policy) *Glue {
	return &Glue{queue: q, conn: conn, notifier: notifier, clients: clients, policy: policy}
}

// OnReconnect marks the network online and flushes the queue once.
// Actions that fail keep their place and wait for the next trigger.
func (g *Glue) OnReconnect(ctx context.Context) (queue.Result, error) {
	if ctx == nil {
		return queue.Result{}, errors.New("context is required")
	}
	if g.conn != nil {
		g.conn.Set(true)
	}
	logCtx := logging.WithComponent(ctx, "syncglue")
	logging.Info(logCtx, "reconnected, flushing offline queue")

	res, err := g.queue.ProcessQueue(ctx)
	if err != nil {
		return res, errs.Wrap(err, "flush offline queue on reconnect")
	}
	if res.Retryable() {
		logging.Warn(logCtx, "offline queue flush incomplete",
			slog.Int("failed", res.Failed),
			slog.Int("remaining", res.Remaining),
		)
	}
	return res, nil
}

// Flush is a caller-requested flush. While actions keep failing the whole
// flush is repeated under the retry policy; each repeat counts against the
// actions' retry budget. An offline queue is returned as skipped.
func (g *Glue) Flush(ctx context.Context) (queue.Result, error) {
	if ctx == nil {
		return queue.Result{}, errors.New("context is required")
	}
	logCtx := logging.WithComponent(ctx, "syncglue")

	var last queue.Result
	attempt := 0
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		res, err := g.queue.ProcessQueue(ctx)
		last = res
		if err != nil {
			return err
		}
		if res.Retryable() {
			logging.Warn(logCtx, "offline queue flush incomplete",
				slog.Int("attempt", attempt),
				slog.Int("failed", res.Failed),
				slog.Int("remaining", res.Remaining),
			)
			return ErrFailuresRemain
		}
		return nil
	})
	if err != nil {
		return last, errs.Wrap(err, "flush offline queue")
	}
	return last, nil
}

// OnOffline marks the network offline.
func (g *Glue) OnOffline(ctx context.Context) {
	if g.conn != nil {
		g.conn.Set(false)
	}
	logging.Info(logging.WithComponent(ctx, "syncglue"), "network offline, queueing mutations")
}

// OnSync handles a background-sync event. Unknown tags are ignored.
func (g *Glue) OnSync(ctx context.Context, tag string) (queue.Result, error) {
	if ctx == nil {
		return queue.Result{}, errors.New("context is required")
	}
	if strings.TrimSpace(tag) != SyncTagOfflineQueue {
		logging.Debug(logging.WithComponent(ctx, "syncglue"), "ignoring sync tag", slog.String("tag", tag))
		return queue.Result{}, nil
	}
	return g.queue.ProcessQueue(ctx)
}

// OnPush shows a notification for a pushed payload.
func (g *Glue) OnPush(ctx context.Context, payload offline.PushPayload) (offline.Notification, error) {
	if ctx == nil {
		return offline.Notification{}, errors.New("context is required")
	}
	n := offline.NewNotification(payload)
	if g.notifier == nil {
		return n, errors.New("notifier is not configured")
	}
	if err := g.notifier.ShowNotification(ctx, n); err != nil {
		return n, errs.Wrap(err, "show notification")
	}
	logging.Info(logging.WithComponent(ctx, "syncglue"), "push notification shown", slog.String("title", n.Title), slog.String("url", n.URL))
	return n, nil
}

// OnNotificationClick opens url for the open action. Dismiss does nothing.
func (g *Glue) OnNotificationClick(ctx context.Context, action, url string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	switch strings.TrimSpace(action) {
	case offline.NotificationActionDismiss:
		return nil
	case offline.NotificationActionOpen, "":
		// A click on the notification body behaves like open.
	default:
		return fmt.Errorf("unknown notification action %q", action)
	}
	target := strings.TrimSpace(url)
	if target == "" {
		target = "/"
	}
	if g.clients == nil {
		return errors.New("client registry is not configured")
	}
	if err := g.clients.OpenWindow(ctx, target); err != nil {
		return errs.Wrapf(err, "open window %s", target)
	}
	return nil
}
