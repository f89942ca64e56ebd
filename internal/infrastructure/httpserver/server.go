package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/infrastructure/cache"
	"stashworker/internal/usecase/queue"
	"stashworker/internal/usecase/syncglue"
	"stashworker/internal/usecase/worker"
)

// ControlPrefix is where the control surface is mounted. Every other path is
// proxied to the origin through the worker.
const ControlPrefix = "/_sw"

type WorkerView interface {
	http.RoundTripper
	Status() worker.Status
}

type CacheLister interface {
	Keys(ctx context.Context) ([]string, error)
}

type QueueAPI interface {
	AddToQueue(ctx context.Context, actionType offline.ActionType, payload json.RawMessage) (offline.QueuedAction, error)
	ProcessQueue(ctx context.Context) (queue.Result, error)
	Pending() []offline.QueuedAction
	Len() int
}

type Events interface {
	OnReconnect(ctx context.Context) (queue.Result, error)
	Flush(ctx context.Context) (queue.Result, error)
	OnOffline(ctx context.Context)
	OnSync(ctx context.Context, tag string) (queue.Result, error)
	OnPush(ctx context.Context, payload offline.PushPayload) (offline.Notification, error)
	OnNotificationClick(ctx context.Context, action, url string) error
}

type MemoryStats interface {
	Stats() cache.MemoryStats
}

type Options struct {
	Origin  *url.URL
	Worker  WorkerView
	Caches  CacheLister
	Queue   QueueAPI
	Events  Events
	Memory  MemoryStats
	Clients http.Handler
	Online  func() bool
}

type Server struct {
	Router *chi.Mux
	opts   Options
}

type statusResponse struct {
	Worker  worker.Status      `json:"worker"`
	Online  bool               `json:"online"`
	Caches  []string           `json:"caches"`
	Queue   int                `json:"queue_length"`
	Clients int                `json:"clients,omitempty"`
	Memory  *cache.MemoryStats `json:"memory,omitempty"`
}

type syncRequest struct {
	Tag string `json:"tag"`
}

type clickRequest struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

type enqueueRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func New(opts Options) (*Server, error) {
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin is required")
	}
	if opts.Worker == nil {
		return nil, errors.New("worker is required")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, opts: opts}

	r.Route(ControlPrefix, func(cr chi.Router) {
		cr.Get("/status", s.handleStatus)
		cr.Post("/online", s.handleOnline)
		cr.Post("/offline", s.handleOffline)
		cr.Post("/sync", s.handleSync)
		cr.Post("/push", s.handlePush)
		cr.Post("/notifications/click", s.handleClick)
		cr.Get("/queue", s.handleQueueList)
		cr.Post("/queue", s.handleQueueAdd)
		cr.Post("/queue/process", s.handleQueueProcess)
		if opts.Clients != nil {
			cr.Handle("/clients", opts.Clients)
		}
	})

	proxy := httputil.NewSingleHostReverseProxy(opts.Origin)
	proxy.Transport = opts.Worker
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.Warn(logging.WithComponent(r.Context(), "httpserver.proxy"), "proxy request failed",
			slog.String("path", r.URL.Path),
			slog.Any("err", errs.Loggable(err)),
		)
		w.WriteHeader(http.StatusBadGateway)
	}
	r.NotFound(proxy.ServeHTTP)
	r.MethodNotAllowed(proxy.ServeHTTP)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Worker: s.opts.Worker.Status(), Caches: []string{}}
	if s.opts.Online != nil {
		resp.Online = s.opts.Online()
	}
	if s.opts.Caches != nil {
		keys, err := s.opts.Caches.Keys(r.Context())
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		resp.Caches = keys
	}
	if s.opts.Queue != nil {
		resp.Queue = s.opts.Queue.Len()
	}
	if counter, ok := s.opts.Clients.(interface{ Count() int }); ok {
		resp.Clients = counter.Count()
	}
	if s.opts.Memory != nil {
		stats := s.opts.Memory.Stats()
		resp.Memory = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w, r) {
		return
	}
	res, err := s.opts.Events.OnReconnect(r.Context())
	if err != nil {
		logging.Warn(logging.WithComponent(r.Context(), "httpserver"), "reconnect flush incomplete", slog.Any("err", errs.Loggable(err)))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w, r) {
		return
	}
	s.opts.Events.OnOffline(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w, r) {
		return
	}
	var req syncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.opts.Events.OnSync(r.Context(), req.Tag)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w, r) {
		return
	}
	var payload offline.PushPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	n, err := s.opts.Events.OnPush(r.Context(), payload)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w, r) {
		return
	}
	var req clickRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.opts.Events.OnNotificationClick(r.Context(), req.Action, req.URL); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w, r) {
		return
	}
	pending := s.opts.Queue.Pending()
	if pending == nil {
		pending = []offline.QueuedAction{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w, r) {
		return
	}
	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actionType, err := offline.ParseActionType(req.Type)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	action, err := s.opts.Queue.AddToQueue(r.Context(), actionType, req.Data)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, offline.ErrPayloadRequired) || errors.Is(err, offline.ErrInvalidActionType) {
			status = http.StatusBadRequest
		}
		s.fail(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, action)
}

func (s *Server) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	if !s.requireQueue(w, r) {
		return
	}
	if s.opts.Events == nil {
		res, err := s.opts.Queue.ProcessQueue(r.Context())
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.opts.Events.Flush(r.Context())
	if err != nil && !errors.Is(err, syncglue.ErrFailuresRemain) {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) requireEvents(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Events == nil {
		s.fail(w, r, http.StatusServiceUnavailable, errors.New("event glue is not configured"))
		return false
	}
	return true
}

func (s *Server) requireQueue(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Queue == nil {
		s.fail(w, r, http.StatusServiceUnavailable, errors.New("queue is not configured"))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	level := logging.Warn
	if status >= http.StatusInternalServerError {
		level = logging.Error
	}
	level(logging.WithComponent(r.Context(), "httpserver"), "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("err", errs.Loggable(err)),
	)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
