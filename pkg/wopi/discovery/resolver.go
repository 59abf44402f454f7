// Package discovery maintains the registry of editor launch URLs built
// from the WOPI discovery documents of the configured clients.
//
// A refresh run fetches every client's document. Any failure aborts the
// whole run and leaves the previous snapshot live; on success the new
// snapshot replaces the old one in a single atomic swap.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/cache"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
)

// SnapshotKey is the cache key holding the last good snapshot.
const SnapshotKey = "discovery:snapshot"

// Refresh results reported to Metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Entry kinds reported to Metrics.
const (
	KindMimetype  = "mimetype"
	KindExtension = "extension"
)

// Metrics receives refresh outcomes. A nil Metrics is a no-op.
type Metrics interface {
	ObserveDiscoveryRefresh(result string, d time.Duration)
	SetDiscoveryEntries(kind string, n int)
}

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Resolver owns the current snapshot and the proof keys learned from
// discovery.
type Resolver struct {
	cfg     Config
	clients []ClientConfig
	cache   cache.Cache
	http    *http.Client
	now     func() time.Time
	metrics Metrics

	// static holds proof keys from configuration; they win over keys
	// published in discovery.
	static map[string]proof.KeySet

	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	keys     atomic.Pointer[map[string]proof.KeySet]

	cron     *cron.Cron
	stopOnce sync.Once
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.http = c }
}

// WithMetrics reports refresh outcomes to m.
func WithMetrics(m Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New validates the client list and static proof keys. c may be nil, in
// which case snapshots are not persisted.
func New(cfg Config, clients []ClientConfig, c cache.Cache, opts ...Option) (*Resolver, error) {
	cfg.applyDefaults()
	if _, err := scheduleParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid discovery schedule %q: %w", cfg.Schedule, err)
	}

	r := &Resolver{
		cfg:     cfg,
		clients: clients,
		cache:   c,
		http:    &http.Client{},
		now:     time.Now,
		static:  make(map[string]proof.KeySet),
	}
	seen := make(map[string]bool, len(clients))
	for _, cl := range clients {
		if cl.Name == "" || cl.DiscoveryURL == "" {
			return nil, errors.New("discovery client requires name and discovery_url")
		}
		if seen[cl.Name] {
			return nil, fmt.Errorf("duplicate discovery client %q", cl.Name)
		}
		seen[cl.Name] = true

		pk := cl.ProofKeys
		if pk.Current.IsZero() {
			if !pk.Previous.IsZero() {
				return nil, fmt.Errorf("client %q: previous proof key without a current key", cl.Name)
			}
			continue
		}
		ks, err := proof.ParseKeySet(pk.Current, pk.Previous)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", cl.Name, err)
		}
		r.static[cl.Name] = ks
	}
	for _, opt := range opts {
		opt(r)
	}

	keys := make(map[string]proof.KeySet, len(r.static))
	for name, ks := range r.static {
		keys[name] = ks
	}
	r.keys.Store(&keys)
	return r, nil
}

// Snapshot returns the live snapshot, or nil before the first
// successful run.
func (r *Resolver) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Ready reports whether a snapshot is available.
func (r *Resolver) Ready() bool {
	return r.snapshot.Load() != nil
}

// ResolveLaunchTemplate returns the urlsrc template for a document. The
// extension match wins over the mimetype match.
func (r *Resolver) ResolveLaunchTemplate(mimetype, ext string) (string, bool) {
	return r.snapshot.Load().Lookup(mimetype, ext)
}

// KeySets returns the proof keys per client name. Clients without keys
// are absent.
func (r *Resolver) KeySets() map[string]proof.KeySet {
	return *r.keys.Load()
}

// ProofRequired reports whether every configured client has proof keys,
// so that an unsigned request cannot come from any of them.
func (r *Resolver) ProofRequired() bool {
	return len(r.clients) > 0 && len(r.KeySets()) == len(r.clients)
}

// Clients returns the configured client names in order.
func (r *Resolver) Clients() []string {
	names := make([]string, len(r.clients))
	for i, cl := range r.clients {
		names[i] = cl.Name
	}
	return names
}

// Refresh runs one discovery pass over every client. Runs are
// serialized; a failing run returns a DiscoveryFailed error and leaves
// the live snapshot untouched.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanDiscoveryRefresh)
	defer span.End()

	snap, keys, err := r.run(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		r.observe(ResultFailure, time.Since(start))
		logger.WarnCtx(ctx, "Discovery refresh failed, keeping previous snapshot", logger.Err(err))
		return err
	}

	r.snapshot.Store(snap)
	r.keys.Store(&keys)
	r.persist(ctx, snap)

	r.observe(ResultSuccess, time.Since(start))
	if r.metrics != nil {
		r.metrics.SetDiscoveryEntries(KindMimetype, len(snap.Mimetypes))
		r.metrics.SetDiscoveryEntries(KindExtension, len(snap.Extensions))
	}
	logger.InfoCtx(ctx, "Discovery refreshed",
		logger.KeyEntries, len(snap.Mimetypes)+len(snap.Extensions),
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

func (r *Resolver) observe(result string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveDiscoveryRefresh(result, d)
	}
}

func (r *Resolver) run(ctx context.Context) (*Snapshot, map[string]proof.KeySet, error) {
	docs := make([]*document, len(r.clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, cl := range r.clients {
		g.Go(func() error {
			doc, err := r.fetch(gctx, cl)
			if err != nil {
				return wopierrors.NewDiscoveryFailed(cl.Name, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return r.build(docs)
}

func (r *Resolver) fetch(ctx context.Context, cl ClientConfig) (*document, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanDiscoveryFetch)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.WopiClient(cl.Name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.DiscoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cl.DiscoveryURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", cl.DiscoveryURL, resp.StatusCode)
	}
	doc, err := parseDocument(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "Discovery document fetched", logger.KeyClient, cl.Name, logger.KeyURL, cl.DiscoveryURL)
	return doc, nil
}

// build aggregates the documents in client order. The first client that
// publishes a key wins it.
func (r *Resolver) build(docs []*document) (*Snapshot, map[string]proof.KeySet, error) {
	snap := newSnapshot(r.now().UTC())
	keys := make(map[string]proof.KeySet, len(r.clients))

	for i, cl := range r.clients {
		excluded := make(map[string]bool, 2*len(cl.Exclusions))
		for _, e := range cl.Exclusions {
			excluded[e] = true
			excluded[normalizeExt(e)] = true
		}

		for _, a := range docs[i].editActions() {
			if a.Ext == "" {
				if excluded[a.App] {
					continue
				}
				if _, dup := snap.Mimetypes[a.App]; !dup {
					snap.Mimetypes[a.App] = a.URLSrc
				}
				continue
			}
			ext := normalizeExt(a.Ext)
			if excluded[ext] {
				continue
			}
			if _, dup := snap.Extensions[ext]; !dup {
				snap.Extensions[ext] = a.URLSrc
			}
		}

		if ks, ok := r.static[cl.Name]; ok {
			keys[cl.Name] = ks
			continue
		}
		pk := docs[i].ProofKey
		if pk == nil || (pk.Modulus == "" && pk.Exponent == "") {
			continue
		}
		ks, err := proof.ParseKeySet(
			proof.KeyConfig{Modulus: pk.Modulus, Exponent: pk.Exponent},
			proof.KeyConfig{Modulus: pk.OldModulus, Exponent: pk.OldExponent},
		)
		if err != nil {
			return nil, nil, wopierrors.NewDiscoveryFailed(cl.Name, err)
		}
		keys[cl.Name] = ks
	}
	return snap, keys, nil
}

func (r *Resolver) persist(ctx context.Context, snap *Snapshot) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err == nil {
		err = r.cache.Set(ctx, SnapshotKey, data, 0)
	}
	if err != nil {
		logger.WarnCtx(ctx, "Failed to persist discovery snapshot", logger.Err(err))
	}
}

// LoadCached installs the persisted snapshot when no run has completed
// yet. It reports whether a snapshot was loaded.
func (r *Resolver) LoadCached(ctx context.Context) (bool, error) {
	if r.cache == nil || r.snapshot.Load() != nil {
		return false, nil
	}
	data, err := r.cache.Get(ctx, SnapshotKey)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decode cached discovery snapshot: %w", err)
	}
	if snap.Mimetypes == nil {
		snap.Mimetypes = map[string]string{}
	}
	if snap.Extensions == nil {
		snap.Extensions = map[string]string{}
	}
	return r.snapshot.CompareAndSwap(nil, &snap), nil
}

// Start loads the persisted snapshot, schedules refreshes and triggers
// an initial run in the background. Scheduled runs never overlap.
func (r *Resolver) Start(ctx context.Context) error {
	if ok, err := r.LoadCached(ctx); err != nil {
		logger.Warn("Ignoring cached discovery snapshot", logger.Err(err))
	} else if ok {
		logger.Info("Serving cached discovery snapshot until the first refresh")
	}

	cl := cronLogger{}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, func() { _ = r.Refresh(ctx) }); err != nil {
		return fmt.Errorf("invalid discovery schedule %q: %w", r.cfg.Schedule, err)
	}
	r.cron = c
	c.Start()
	logger.Info("Discovery scheduler started", "schedule", r.cfg.Schedule, "clients", len(r.clients))

	go func() { _ = r.Refresh(ctx) }()
	return nil
}

// Stop halts the schedule and waits for a running scheduled refresh.
// Safe to call multiple times.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() {
		if r.cron == nil {
			return
		}
		<-r.cron.Stop().Done()
		logger.Info("Discovery scheduler stopped")
	})
}

// cronLogger routes robfig/cron messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error("cron: "+msg, append(keysAndValues, logger.KeyError, err)...)
}
