// Package spf is the public surface of the framework (spec.md §6): it
// wires the task queue, pub/sub dispatcher, bounded cache, resource
// loader, request layer, response applier, history binding, and
// navigation controller into a single facade.
package spf

import (
	"context"
	"errors"

	"github.com/use-agent/spfgo/config"
	"github.com/use-agent/spfgo/internal/applier"
	"github.com/use-agent/spfgo/internal/cache"
	"github.com/use-agent/spfgo/internal/dom"
	"github.com/use-agent/spfgo/internal/history"
	"github.com/use-agent/spfgo/internal/navigation"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
	"github.com/use-agent/spfgo/internal/resource"
	"github.com/use-agent/spfgo/internal/transport"
	"github.com/use-agent/spfgo/webhook"
)

// ErrHistoryUnsupported is returned by Init when historyPrim is nil:
// spec.md's "anything requiring the older browsers that lack history
// state modification (initialization fails cleanly in that case)".
// The returned Framework is still usable, but every Navigate degrades
// to a full-page load classified as navigation.KindUnsupported.
var ErrHistoryUnsupported = errors.New("spf: history state modification unavailable, navigations will fall back to full-page loads")

// ResourceHandle exposes the scripts/styles surface of the public API
// (spec.md §6: "scripts.{load, unload, ignore, prefetch}").
type ResourceHandle struct {
	kind resource.Kind
	l    *resource.Loader
}

// Load installs urls in order under the optional name, firing callback
// once all are loaded.
func (h ResourceHandle) Load(urls []string, name string, callback func(dom.Element)) {
	var cb func()
	if callback != nil {
		cb = func() { callback(nil) }
	}
	h.l.Load(h.kind, urls, name, cb)
}

// Unload removes every resource registered under name.
func (h ResourceHandle) Unload(name string) {
	h.l.Unload(h.kind, name)
}

// Ignore injects an unconditional, untracked resource (spec.md §4.D's
// "create").
func (h ResourceHandle) Ignore(url string, callback func(dom.Element)) (dom.Element, error) {
	return h.l.Create(h.kind, url, callback)
}

// Prefetch primes the browser cache for url without installing it.
func (h ResourceHandle) Prefetch(ctx context.Context, url string) error {
	return h.l.Prefetch(ctx, h.kind, url)
}

// Framework is the initialized, ready-to-use facade. One instance per
// document.
type Framework struct {
	queue   *queue.Manager
	topics  *pubsub.Dispatcher
	cache   *cache.Cache
	trans   *transport.Client
	applier *applier.Applier
	nav     *navigation.Controller

	linkClass     string
	currentOrigin string

	Scripts ResourceHandle
	Styles  ResourceHandle
}

// transportFetcher adapts transport.Client's callback-based Request
// into resource.Fetcher's blocking Fetch, for script prefetch.
type transportFetcher struct{ c *transport.Client }

func (f transportFetcher) Fetch(ctx context.Context, url string) error {
	done := make(chan error, 1)
	cancel := f.c.Request(ctx, url, transport.Options{
		Method: "GET",
		Type:   transport.TypePrefetch,
		OnSuccess: func(transport.Result) {
			done <- nil
		},
		OnError: func(err error) {
			done <- err
		},
		OnTimeout: func() {
			done <- context.DeadlineExceeded
		},
	})
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Init constructs every component and wires them together, reporting
// spec.md §6's `init(config?) → boolean` as an error: non-nil means
// history state modification was unavailable and Init failed cleanly
// (ErrHistoryUnsupported) rather than leaving the framework unusable.
// doc is the document the framework will mutate; historyPrim and
// fallback are the host's browser-primitive collaborators (fallback
// may be nil to disable the full-page-load escape hatch, historyPrim
// nil triggers the unsupported gate on every Navigate). sessionStore
// may be nil to disable cache/cap persistence.
func Init(cfg *config.Config, doc dom.Document, historyPrim history.Primitive, fallback navigation.FullPageLoad, sessionStore cache.SessionStore, debug applier.DebugLogger) (*Framework, error) {
	qm := queue.NewManager()
	topics := pubsub.New()
	trans := transport.NewClient(cfg.Request.Proxy, cfg.Request.RatePerSecond, cfg.Request.RateBurst)

	scripts := resource.NewLoader(doc, qm, transportFetcher{trans})
	styles := resource.NewLoader(doc, qm, nil)
	scripts.SetPathPrefix(resource.KindScript, cfg.Loader.PathPrefix)
	styles.SetPathPrefix(resource.KindStyle, cfg.Loader.PathPrefix)

	cc := cache.New(cache.Config{
		Lifetime:      cfg.Cache.Lifetime,
		Max:           cfg.Cache.Max,
		Unified:       cfg.Cache.Unified,
		SessionMirror: cfg.Cache.SessionMirror,
		SessionKey:    "spf-cache",
	}, sessionStore)

	a := applier.New(doc, scripts, styles, qm, topics, nil, debug)

	navCfg := navigation.Config{
		URLIdentifier:       cfg.Click.URLIdentifier,
		LinkClass:           cfg.Click.LinkClass,
		NoLinkClass:         cfg.Click.NoLinkClass,
		CurrentOrigin:       cfg.Click.CurrentOrigin,
		NavigateLimit:       cfg.Session.NavigateLimit,
		NavigateLifetime:    cfg.Session.NavigateLifetime,
		PrefetchOnMousedown: cfg.Process.PrefetchOnMousedown,
		ProcessAsync:        cfg.Process.Async,
		RequestTimeoutMs:    cfg.Request.TimeoutMs,
		Delimiter:           cfg.Request.Delimiter,
		CacheLifetime:       cfg.Cache.Lifetime,
	}
	nav := navigation.New(navCfg, cc, trans, a, topics, qm, fallback, sessionStore)
	a.SetNavigator(nav)

	var initErr error
	if historyPrim != nil {
		nav.SetHistory(history.New(historyPrim, nav.HandlePop))
	} else {
		initErr = ErrHistoryUnsupported
	}

	if cfg.Webhook.URL != "" {
		webhook.NewNotifier(qm, cfg.Webhook.URL, cfg.Webhook.Secret).Subscribe(topics)
	}

	for _, kind := range []resource.Kind{resource.KindScript, resource.KindStyle} {
		if kind == resource.KindScript {
			scripts.Discover(kind)
		} else {
			styles.Discover(kind)
		}
	}

	return &Framework{
		queue:         qm,
		topics:        topics,
		cache:         cc,
		trans:         trans,
		applier:       a,
		nav:           nav,
		linkClass:     cfg.Click.LinkClass,
		currentOrigin: cfg.Click.CurrentOrigin,
		Scripts:       ResourceHandle{kind: resource.KindScript, l: scripts},
		Styles:        ResourceHandle{kind: resource.KindStyle, l: styles},
	}, initErr
}

// Dispose stops the transport client's domain-memory sweeper. The
// per-origin rate limiter's cleanup goroutine, started when pacing is
// enabled, keeps running.
func (f *Framework) Dispose() {
	f.trans.Stop()
}

// Navigate starts a tracked SPF navigation to url.
func (f *Framework) Navigate(url string) {
	f.nav.Navigate(url)
}

// Load issues a request and applies its response without touching
// history.
func (f *Framework) Load(url string, callback func(error)) {
	f.nav.Load(url, callback)
}

// Prefetch primes the cache for url without applying anything.
func (f *Framework) Prefetch(url string, callback func(error)) {
	f.nav.Prefetch(url, callback)
}

// Process applies a raw server response directly, bypassing the
// network.
func (f *Framework) Process(raw []byte, callback func(error)) {
	f.nav.Process(raw, callback)
}

// HandleClick is the host's delegated click listener entry point.
func (f *Framework) HandleClick(link navigation.LinkInfo) bool {
	intercept, reason := navigation.ShouldIntercept(link, f.linkClass, f.currentOrigin)
	if !intercept {
		if reason == navigation.KindOrigin {
			f.topics.Publish(pubsub.KindError.String(), &navigation.Error{Kind: navigation.KindOrigin, URL: link.Href})
		}
		return false
	}
	f.Navigate(link.Href)
	return true
}

// Subscribe attaches fn to one of the typed lifecycle topics
// (spfrequest, spfreceived, spfprocess, spfdone, spferror, …).
func (f *Framework) Subscribe(kind pubsub.Kind, fn pubsub.Subscriber) {
	f.topics.Subscribe(kind.String(), fn)
}

// QueueLen reports how many pending tasks remain on the named queue,
// useful for diagnostics (spec.md §9's typed-object queue model).
func (f *Framework) QueueLen(key string) int {
	return f.queue.Len(key)
}

// CacheLen reports the number of live cache entries.
func (f *Framework) CacheLen() int {
	return f.cache.Len()
}
