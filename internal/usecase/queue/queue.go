package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
)

// SkipReason explains why ProcessQueue did nothing.
type SkipReason string

const (
	SkipNone    SkipReason = ""
	SkipOffline SkipReason = "offline"
	SkipBusy    SkipReason = "busy"
	SkipEmpty   SkipReason = "empty"
)

// Result summarises one ProcessQueue pass.
type Result struct {
	Skipped   SkipReason             `json:"skipped,omitempty"`
	Attempted int                    `json:"attempted"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Dropped   []offline.QueuedAction `json:"dropped,omitempty"`
	Remaining int                    `json:"remaining"`
}

// Retryable reports whether a later pass may still make progress.
func (r Result) Retryable() bool {
	return r.Skipped == SkipNone && r.Failed > len(r.Dropped) && r.Remaining > 0
}

type Options struct {
	// MaxRetries is how many failed replays an action survives. Zero or
	// less uses offline.MaxRetries.
	MaxRetries int
	Now        func() time.Time
	NewID      func() string
}

// Queue holds mutating actions made while offline and replays them in
// enqueue order. The whole queue is persisted under one key after every
// mutation.
type Queue struct {
	store      ports.Cache
	replayer   ports.ActionReplayer
	conn       ports.Connectivity
	maxRetries int
	nowFunc    func() time.Time
	newID      func() string
	tracer     trace.Tracer

	mu         sync.Mutex
	actions    []offline.QueuedAction
	processing bool

	// persistMu orders snapshot+write pairs so the last write holds the
	// newest state.
	persistMu sync.Mutex
}

func New(store ports.Cache, replayer ports.ActionReplayer, conn ports.Connectivity, opts Options) *Queue {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = offline.MaxRetries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Queue{
		store:      store,
		replayer:   replayer,
		conn:       conn,
		maxRetries: maxRetries,
		nowFunc:    now,
		newID:      newID,
		tracer:     otel.Tracer("stashworker/queue"),
	}
}

// Load replaces the in-memory queue with the persisted one.
func (q *Queue) Load(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	raw, found, err := q.store.Get(ctx, offline.QueueStorageKey)
	if err != nil {
		return 0, errs.Wrap(err, "load offline queue")
	}
	logCtx := logging.WithComponent(ctx, "queue")
	var actions []offline.QueuedAction
	if found {
		var skipped []offline.SkippedRecord
		if actions, skipped, err = offline.DecodeQueue(raw); err != nil {
			return 0, errs.WithKind(errs.Wrap(err, "decode offline queue"), errs.KindStorage)
		}
		for _, rec := range skipped {
			logging.Warn(logCtx, "skipping unreadable queued action",
				slog.Int("index", rec.Index),
				slog.String("record", string(rec.Raw)),
				slog.Any("err", errs.Loggable(rec.Err)),
			)
		}
	}

	q.mu.Lock()
	q.actions = actions
	q.mu.Unlock()

	logging.Info(logCtx, "offline queue loaded", slog.Int("actions", len(actions)))
	return len(actions), nil
}

// AddToQueue appends a new action and persists the queue. When persisting
// fails the action is still queued in memory and the error is returned.
func (q *Queue) AddToQueue(ctx context.Context, actionType offline.ActionType, payload json.RawMessage) (offline.QueuedAction, error) {
	if ctx == nil {
		return offline.QueuedAction{}, errors.New("context is required")
	}
	parsed, err := offline.ParseActionType(string(actionType))
	if err != nil {
		return offline.QueuedAction{}, err
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return offline.QueuedAction{}, offline.ErrPayloadRequired
	}
	if !json.Valid(payload) {
		return offline.QueuedAction{}, fmt.Errorf("%w: payload is not valid json", offline.ErrPayloadRequired)
	}

	action := offline.QueuedAction{
		ID:         q.newID(),
		Type:       parsed,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: q.nowFunc().UTC(),
	}

	q.mu.Lock()
	q.actions = append(q.actions, action)
	q.mu.Unlock()

	logCtx := logging.WithAttrs(logging.WithComponent(ctx, "queue"),
		slog.String("action_id", action.ID),
		slog.String("action_type", string(action.Type)),
	)
	if err := q.persist(ctx); err != nil {
		logging.Warn(logCtx, "action queued but not persisted", slog.Any("err", errs.Loggable(err)))
		return action, err
	}
	logging.Info(logCtx, "action queued")
	return action, nil
}

// ProcessQueue replays every queued action once, in enqueue order. It does
// nothing when offline, when another pass is running, or when the queue is
// empty. Actions added during a pass are kept for the next one.
func (q *Queue) ProcessQueue(ctx context.Context) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	logCtx := logging.WithComponent(ctx, "queue")

	q.mu.Lock()
	switch {
	case q.processing:
		n := len(q.actions)
		q.mu.Unlock()
		return Result{Skipped: SkipBusy, Remaining: n}, nil
	case q.conn != nil && !q.conn.Online():
		n := len(q.actions)
		q.mu.Unlock()
		return Result{Skipped: SkipOffline, Remaining: n}, nil
	case len(q.actions) == 0:
		q.mu.Unlock()
		return Result{Skipped: SkipEmpty}, nil
	}
	q.processing = true
	snapshot := make([]offline.QueuedAction, len(q.actions))
	copy(snapshot, q.actions)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	ctx, span := q.tracer.Start(ctx, "queue.process", trace.WithAttributes(attribute.Int("queue.size", len(snapshot))))
	defer span.End()

	var (
		result     Result
		persistErr error
	)
	for _, action := range snapshot {
		if err := ctx.Err(); err != nil {
			result.Remaining = q.Len()
			return result, errs.Wrap(err, "process offline queue")
		}
		result.Attempted++
		actionCtx := logging.WithAttrs(logCtx,
			slog.String("action_id", action.ID),
			slog.String("action_type", string(action.Type)),
		)

		replayErr := q.replayer.Replay(ctx, action)
		if replayErr == nil {
			result.Succeeded++
			q.remove(action.ID)
			logging.Info(actionCtx, "queued action replayed")
		} else {
			result.Failed++
			replayErr = errs.WithKind(replayErr, errs.KindQueueAction)
			if dropped, ok := q.recordFailure(action.ID); ok {
				result.Dropped = append(result.Dropped, dropped)
				logging.Error(actionCtx, "queued action dropped after max retries",
					slog.Int("retry_count", dropped.RetryCount),
					slog.Any("err", errs.Loggable(replayErr)),
				)
			} else {
				logging.Warn(actionCtx, "queued action failed, will retry", slog.Any("err", errs.Loggable(replayErr)))
			}
		}

		if err := q.persist(ctx); err != nil {
			persistErr = err
			logging.Warn(actionCtx, "persist offline queue failed", slog.Any("err", errs.Loggable(err)))
		}
	}

	result.Remaining = q.Len()
	span.SetAttributes(
		attribute.Int("queue.succeeded", result.Succeeded),
		attribute.Int("queue.failed", result.Failed),
		attribute.Int("queue.dropped", len(result.Dropped)),
	)
	logging.Info(logCtx, "offline queue processed",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("dropped", len(result.Dropped)),
		slog.Int("remaining", result.Remaining),
	)
	return result, persistErr
}

// Pending returns a copy of the queued actions in enqueue order.
func (q *Queue) Pending() []offline.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]offline.QueuedAction, len(q.actions))
	copy(out, q.actions)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return
		}
	}
}

// recordFailure bumps the retry count of id, or removes it once it has
// used up its retries. It returns the removed action.
func (q *Queue) recordFailure(id string) (offline.QueuedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID != id {
			continue
		}
		if q.actions[i].RetryCount < q.maxRetries {
			q.actions[i].RetryCount++
			return offline.QueuedAction{}, false
		}
		dropped := q.actions[i]
		q.actions = append(q.actions[:i], q.actions[i+1:]...)
		return dropped, true
	}
	return offline.QueuedAction{}, false
}

func (q *Queue) persist(ctx context.Context) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	raw, err := offline.EncodeQueue(q.actions)
	q.mu.Unlock()
	if err != nil {
		return errs.Wrap(err, "encode offline queue")
	}
	if err := q.store.Set(ctx, offline.QueueStorageKey, raw, 0); err != nil {
		return errs.Wrap(err, "persist offline queue")
	}
	return nil
}
