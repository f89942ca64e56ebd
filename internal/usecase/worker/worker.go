package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/domain/offline"
	"stashworker/internal/errs"
	"stashworker/internal/ports"
	"stashworker/internal/usecase/strategy"
)

const precacheConcurrency = 6

// Options configure a Worker.
type Options struct {
	Origin      *url.URL
	Version     string
	Manifest    offline.Manifest
	APIPrefixes []string
	// Network performs real requests. Defaults to http.DefaultTransport.
	Network http.RoundTripper
	Now     func() time.Time
}

// Status is a snapshot of the worker lifecycle.
type Status struct {
	State         State  `json:"state"`
	Version       string `json:"version"`
	ActiveVersion string `json:"active_version,omitempty"`
	ManifestSize  int    `json:"manifest_size"`
}

// Worker mediates every request from controlled pages. It is an
// http.RoundTripper: once activated, same-origin GETs are answered by the
// per-route cache strategy, everything else goes to the network unchanged.
type Worker struct {
	origin    *url.URL
	network   http.RoundTripper
	nowFunc   func() time.Time
	storage   ports.CacheStorage
	uow       ports.UnitOfWork
	clients   ports.ClientRegistry
	routes    []Route
	refresher *strategy.Refresher
	tracer    trace.Tracer

	// lifecycle serialises Install, Activate and Update.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	state    State
	version  string
	manifest offline.Manifest
	active   *generation
}

type generation struct {
	version string
	caches  Caches
}

var _ http.RoundTripper = (*Worker)(nil)

func New(opts Options, storage ports.CacheStorage, uow ports.UnitOfWork, clients ports.ClientRegistry) (*Worker, error) {
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("worker origin must be an absolute URL")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("worker version is required")
	}
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	network := opts.Network
	if network == nil {
		network = http.DefaultTransport
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	manifest := opts.Manifest
	if len(manifest.URLs) == 0 {
		manifest = offline.DefaultManifest()
	}

	return &Worker{
		origin:    opts.Origin,
		network:   network,
		nowFunc:   now,
		storage:   storage,
		uow:       uow,
		clients:   clients,
		routes:    DefaultRoutes(opts.APIPrefixes),
		refresher: strategy.NewRefresher(context.Background()),
		tracer:    otel.Tracer("stashworker/worker"),
		state:     StateParsed,
		version:   strings.TrimSpace(opts.Version),
		manifest:  manifest,
	}, nil
}

func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Status{
		State:        w.state,
		Version:      w.version,
		ManifestSize: len(w.manifest.URLs),
	}
	if w.active != nil {
		st.ActiveVersion = w.active.version
	}
	return st
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Install precaches every manifest URL into static-<version>. The cache is
// written only after every entry was fetched with status 200; otherwise the
// worker becomes redundant and ErrInstallFailed is returned.
func (w *Worker) Install(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.install(ctx)
}

func (w *Worker) install(ctx context.Context) error {
	w.mu.Lock()
	if !w.state.canInstall() {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: install from %s", offline.ErrInvalidTransition, state)
	}
	w.state = StateInstalling
	version := w.version
	manifest := w.manifest
	w.mu.Unlock()

	logCtx := logging.WithAttrs(logging.WithComponent(ctx, "worker"), slog.String("version", version))
	logging.Info(logCtx, "install started", slog.Int("entries", len(manifest.URLs)))

	entries, err := w.precache(ctx, manifest)
	if err == nil {
		err = w.writeStatic(ctx, version, entries)
	}
	if err != nil {
		w.setState(StateRedundant)
		err = errs.WithKind(fmt.Errorf("%w: %w", offline.ErrInstallFailed, err), errs.KindPrecache)
		logging.Error(logCtx, "install failed", slog.Any("err", errs.Loggable(err)))
		return err
	}

	w.setState(StateInstalled)
	logging.Info(logCtx, "install finished", slog.Int("precached", len(entries)))
	return nil
}

func (w *Worker) precache(ctx context.Context, manifest offline.Manifest) ([]ports.StoredResponse, error) {
	urls, err := manifest.Resolve(w.origin)
	if err != nil {
		return nil, err
	}

	entries := make([]ports.StoredResponse, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return errs.Wrapf(err, "build request %s", u)
			}
			resp, err := w.network.RoundTrip(req)
			if err != nil {
				return errs.WithKind(errs.Wrapf(err, "fetch %s", u), errs.KindNetwork)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return errs.Wrapf(err, "read %s", u)
			}
			entries[i] = ports.StoredResponse{
				URL:      u.String(),
				Status:   resp.StatusCode,
				Header:   resp.Header.Clone(),
				Body:     body,
				StoredAt: w.nowFunc(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (w *Worker) writeStatic(ctx context.Context, version string, entries []ports.StoredResponse) error {
	return w.withTx(ctx, func(txCtx context.Context) error {
		static, err := w.storage.Open(txCtx, offline.StaticCacheName(version))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := static.Put(txCtx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Activate removes every cache outside the current version's allow-list,
// takes control of open clients and starts intercepting requests.
func (w *Worker) Activate(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	return w.activate(ctx)
}

func (w *Worker) activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateInstalled {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: activate from %s", offline.ErrInvalidTransition, state)
	}
	w.state = StateActivating
	version := w.version
	w.mu.Unlock()

	logCtx := logging.WithAttrs(logging.WithComponent(ctx, "worker"), slog.String("version", version))
	allow := offline.CacheAllowList(version)

	var (
		gen     *generation
		removed []string
	)
	err := w.withTx(ctx, func(txCtx context.Context) error {
		names, err := w.storage.Keys(txCtx)
		if err != nil {
			return err
		}
		for _, name := range names {
			if slices.Contains(allow, name) {
				continue
			}
			if _, err := w.storage.Delete(txCtx, name); err != nil {
				return errs.Wrapf(err, "delete cache %s", name)
			}
			removed = append(removed, name)
		}

		caches := Caches{}
		if caches.Static, err = w.storage.Open(txCtx, offline.StaticCacheName(version)); err != nil {
			return err
		}
		if caches.Dynamic, err = w.storage.Open(txCtx, offline.DynamicCacheName(version)); err != nil {
			return err
		}
		if caches.Images, err = w.storage.Open(txCtx, offline.ImagesCacheName(version)); err != nil {
			return err
		}
		gen = &generation{version: version, caches: caches}
		return nil
	})
	if err != nil {
		w.setState(StateInstalled)
		logging.Error(logCtx, "activate failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "activate worker")
	}

	w.mu.Lock()
	w.active = gen
	w.state = StateActivated
	w.mu.Unlock()

	claimed := 0
	if w.clients != nil {
		claimed = w.clients.Claim(ctx)
	}
	logging.Info(logCtx, "worker activated",
		slog.Any("removed_caches", removed),
		slog.Int("claimed_clients", claimed),
	)
	return nil
}

// Resume activates the generation a previous process installed, without
// touching the network. It fails when static-<version> does not exist.
func (w *Worker) Resume(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.RLock()
	version := w.version
	w.mu.RUnlock()

	ok, err := w.storage.Has(ctx, offline.StaticCacheName(version))
	if err != nil {
		return errs.Wrap(err, "check installed generation")
	}
	if !ok {
		return fmt.Errorf("%w: no installed generation for %s", offline.ErrInvalidTransition, version)
	}
	w.setState(StateInstalled)
	return w.activate(ctx)
}

// Update installs and activates a new generation. The current generation
// keeps serving until the new one is active. On failure the previous
// version and manifest are restored.
func (w *Worker) Update(ctx context.Context, manifest offline.Manifest, version string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("worker version is required")
	}
	if len(manifest.URLs) == 0 {
		return offline.ErrManifestEmpty
	}

	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.mu.Lock()
	prevVersion, prevManifest, prevActive := w.version, w.manifest, w.active
	w.version = version
	w.manifest = manifest
	w.mu.Unlock()

	err := w.install(ctx)
	if err == nil {
		err = w.activate(ctx)
	}
	if err != nil {
		w.restore(prevVersion, prevManifest, prevActive)
		return err
	}
	return nil
}

func (w *Worker) restore(version string, manifest offline.Manifest, active *generation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.version = version
	w.manifest = manifest
	if active != nil {
		w.active = active
		w.state = StateActivated
	}
}

// Shutdown stops scheduling background refreshes and waits for the running
// ones.
func (w *Worker) Shutdown(ctx context.Context) error {
	err := w.refresher.Wait(ctx)
	w.setState(StateRedundant)
	w.mu.Lock()
	w.active = nil
	w.mu.Unlock()
	return err
}

// Classify names the route that would serve req.
func (w *Worker) Classify(req *http.Request) string {
	route, ok := match(w.routes, req)
	if !ok {
		return ""
	}
	return route.Name
}

// RoundTrip is the fetch handler.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	w.mu.RLock()
	gen := w.active
	w.mu.RUnlock()

	if gen == nil || req.Method != http.MethodGet || !offline.SameOrigin(req.URL, w.origin) {
		return w.network.RoundTrip(req)
	}

	route, ok := match(w.routes, req)
	if !ok {
		return w.network.RoundTrip(req)
	}

	ctx, span := w.tracer.Start(req.Context(), "worker.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("strategy", route.Name),
			attribute.String("url.path", req.URL.Path),
			attribute.String("cache.version", gen.version),
		),
	)
	defer span.End()

	resp := route.Handle(logging.WithSpan(ctx), w.deps(), gen.caches, req)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

func (w *Worker) deps() strategy.Deps {
	return strategy.Deps{
		Fetch:      w.network,
		Now:        w.nowFunc,
		Background: w.refresher.Go,
	}
}

// WaitIdle blocks until background refreshes scheduled so far are done.
func (w *Worker) WaitIdle() {
	w.refresher.Idle()
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.uow == nil {
		return fn(ctx)
	}
	return w.uow.WithTx(ctx, fn)
}
