// Package navigation implements the navigation controller (spec.md
// §4.H): the per-navigation state machine that ties the cache,
// resource loader, request layer, response applier, and history
// binding together behind navigate/load/prefetch/process and click
// interception.
package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/spfgo/internal/applier"
	"github.com/use-agent/spfgo/internal/cache"
	"github.com/use-agent/spfgo/internal/history"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
	"github.com/use-agent/spfgo/internal/transport"
	"github.com/use-agent/spfgo/internal/wire"
)

// FullPageLoad is the fallback collaborator invoked when a navigation
// must hand off to a real page load: the session cap was reached, or
// an error kind that doesn't stay client-side occurred.
type FullPageLoad interface {
	Assign(url string)
}

// Config mirrors the navigation-relevant options of spec.md §6.
type Config struct {
	URLIdentifier string
	LinkClass     string
	NoLinkClass   string
	CurrentOrigin string

	NavigateLimit    int
	NavigateLifetime time.Duration

	PrefetchOnMousedown bool
	ProcessAsync         bool
	RequestTimeoutMs     int
	Delimiter            string

	CacheLifetime time.Duration

	OnRequested     func(url string)
	OnPartReceived  func(url string, part int)
	OnPartProcessed func(url string, part int)
	OnReceived      func(url string)
	OnProcessed     func(url string)
	// OnError is invoked for every classified error of a navigate, load
	// or prefetch request (Process reports its parse error to the caller
	// only); returning true suppresses the full-page-load fallback for
	// fallback-eligible kinds.
	OnError func(err *Error) bool
}

// request tracks one in-flight navigate or prefetch.
type request struct {
	url       string
	reqType   transport.RequestType
	navKey    string
	cancel    func()
	parts     []*wire.Response
	isHistoryPop bool
	back         bool
	current      bool // true once promoted or issued as the live navigate
	done         bool
}

// Controller drives the per-navigation state machine.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	cache *cache.Cache
	trans *transport.Client
	apply *applier.Applier
	hist  *history.Binding
	topics *pubsub.Dispatcher
	queue  *queue.Manager
	fallback FullPageLoad
	cap      *sessionCap

	current    *request
	prefetches map[string]*request
	seq        int
}

// New constructs a Controller. fallback and sessionStore may be nil.
func New(cfg Config, c *cache.Cache, t *transport.Client, a *applier.Applier, topics *pubsub.Dispatcher, qm *queue.Manager, fallback FullPageLoad, sessionStore cache.SessionStore) *Controller {
	return &Controller{
		cfg:        cfg,
		cache:      c,
		trans:      t,
		apply:      a,
		topics:     topics,
		queue:      qm,
		fallback:   fallback,
		cap:        newSessionCap(cfg.NavigateLimit, cfg.NavigateLifetime, sessionStore),
		prefetches: make(map[string]*request),
	}
}

// SetHistory attaches the history binding. Constructed separately
// since the binding's pop callback closes over the controller itself.
func (c *Controller) SetHistory(h *history.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hist = h
}

// HandlePop is the callback wired to history.New/history.Binding: a
// browser back/forward fires a re-navigation that does not push a new
// history entry (it's already there).
func (c *Controller) HandlePop(url string, _ history.State, back bool) {
	c.navigate(url, true, back)
}

// Navigate starts (or promotes into) a tracked navigation to url.
func (c *Controller) Navigate(url string) {
	c.navigate(url, false, false)
}

func (c *Controller) navigate(url string, isPop bool, back bool) {
	c.mu.Lock()

	// spec.md: "Likewise when history state modification is
	// unavailable" — without a history binding there is nowhere to
	// record the transition, so every navigate degrades to a full-page
	// load instead of applying a partial response the address bar can
	// never reflect. Pops only ever arrive through a history binding's
	// own callback, so this can't fire for isPop.
	if !isPop && c.hist == nil {
		c.mu.Unlock()
		c.gatedFallback(KindUnsupported, url)
		return
	}

	if !isPop && !c.cap.allow() {
		c.mu.Unlock()
		c.gatedFallback(KindLimit, url)
		return
	}

	if prior := c.current; prior != nil && !prior.done {
		if prior.cancel != nil {
			prior.cancel()
		}
	}

	if entry, ok := c.cache.Get(url, cache.TypeNavigate); ok {
		req := c.newRequestLocked(url, transport.TypeNavigate, isPop, back)
		req.done = true
		c.current = req
		c.queue.CancelAllExcept("navigate-", req.navKey)
		c.mu.Unlock()

		c.publishRequested(req, back)
		parts, _ := entry.Response.([]*wire.Response)
		c.applyCached(req, parts)
		return
	}

	if pf, ok := c.prefetches[url]; ok {
		delete(c.prefetches, pf.url)
		pf.reqType = transport.TypeNavigate
		pf.isHistoryPop = isPop
		pf.back = back
		pf.current = true
		c.seq++
		pf.navKey = fmt.Sprintf("navigate-%d", c.seq)
		c.current = pf
		c.queue.CancelAllExcept("navigate-", pf.navKey)
		c.mu.Unlock()

		c.publishRequested(pf, back)
		c.replayPromoted(pf)
		return
	}

	req := c.newRequestLocked(url, transport.TypeNavigate, isPop, back)
	req.current = true
	c.current = req
	c.queue.CancelAllExcept("navigate-", req.navKey)
	c.mu.Unlock()

	c.publishRequested(req, back)
	c.issueRequest(req)
}

// Load issues a request and applies its response without touching
// history, invoking callback (if non-nil) on completion.
func (c *Controller) Load(url string, callback func(error)) {
	c.mu.Lock()
	req := c.newRequestLocked(url, transport.TypeLoad, false, false)
	c.mu.Unlock()

	c.issueRequestWith(req, callback)
}

// Prefetch primes the cache for url without applying anything.
func (c *Controller) Prefetch(url string, callback func(error)) {
	c.mu.Lock()
	if _, exists := c.prefetches[url]; exists {
		c.mu.Unlock()
		return
	}
	req := c.newRequestLocked(url, transport.TypePrefetch, false, false)
	c.prefetches[url] = req
	c.mu.Unlock()

	c.issueRequestWith(req, callback)
}

// Process applies a raw server response directly, bypassing the
// network, e.g. for host-pushed data.
func (c *Controller) Process(raw []byte, callback func(error)) {
	r, err := wire.Decode(raw)
	if err != nil {
		if callback != nil {
			callback(&Error{Kind: KindParse, Err: err})
		}
		return
	}

	c.mu.Lock()
	c.seq++
	navKey := fmt.Sprintf("process-%d", c.seq)
	c.mu.Unlock()

	c.apply.Apply(navKey, r, true)
	if callback != nil {
		callback(nil)
	}
}

func (c *Controller) newRequestLocked(url string, reqType transport.RequestType, isPop, back bool) *request {
	c.seq++
	prefix := "navigate-"
	if reqType == transport.TypePrefetch {
		prefix = "prefetch-"
	} else if reqType == transport.TypeLoad {
		prefix = "load-"
	}
	return &request{
		url:          url,
		reqType:      reqType,
		navKey:       fmt.Sprintf("%s%d", prefix, c.seq),
		isHistoryPop: isPop,
		back:         back,
	}
}

func (c *Controller) issueRequest(req *request) {
	c.issueRequestWith(req, nil)
}

func (c *Controller) issueRequestWith(req *request, callback func(error)) {
	identified := Identify(req.url, c.cfg.URLIdentifier, string(req.reqType))
	opts := transport.Options{
		Method:    "GET",
		TimeoutMs: c.cfg.RequestTimeoutMs,
		Type:      req.reqType,
		Delimiter: c.cfg.Delimiter,
		OnPart: func(raw []byte) {
			c.onPart(req, raw, callback)
		},
		OnSuccess: func(res transport.Result) {
			c.onSuccess(req, res, callback)
		},
		OnError: func(err error) {
			c.onError(req, KindTransport, err, callback)
		},
		OnTimeout: func() {
			c.onError(req, KindTimeout, context.DeadlineExceeded, callback)
		},
	}
	req.cancel = c.trans.Request(context.Background(), identified, opts)
}

func (c *Controller) onPart(req *request, raw []byte, callback func(error)) {
	r, err := wire.Decode(raw)
	if err != nil {
		c.onError(req, KindParse, err, callback)
		return
	}

	c.mu.Lock()
	req.parts = append(req.parts, r)
	idx := len(req.parts)
	c.mu.Unlock()

	if idx == 1 {
		c.publish(pubsub.KindReceived, req.url)
		if c.cfg.OnReceived != nil {
			c.cfg.OnReceived(req.url)
		}
	}
	c.publish(pubsub.KindPartReceived, req.url, idx)
	if c.cfg.OnPartReceived != nil {
		c.cfg.OnPartReceived(req.url, idx)
	}

	if req.reqType != transport.TypePrefetch {
		c.apply.Apply(req.navKey, r, false)
	}

	c.publish(pubsub.KindPartProcessed, req.url, idx)
	if c.cfg.OnPartProcessed != nil {
		c.cfg.OnPartProcessed(req.url, idx)
	}
}

func (c *Controller) onSuccess(req *request, _ transport.Result, callback func(error)) {
	c.mu.Lock()
	parts := req.parts
	c.mu.Unlock()

	if req.reqType == transport.TypePrefetch {
		canonical := canonicalURL(parts, req.url)
		c.cache.Set(req.url, parts, c.cfg.CacheLifetime, cache.TypePrefetch, canonical)
		c.mu.Lock()
		delete(c.prefetches, req.url)
		c.mu.Unlock()
		if callback != nil {
			callback(nil)
		}
		return
	}

	if req.reqType == transport.TypeNavigate {
		canonical := canonicalURL(parts, req.url)
		if !req.isHistoryPop && c.hist != nil {
			c.hist.Add(canonical, history.State{})
		}
		c.cache.Set(req.url, parts, c.cfg.CacheLifetime, cache.TypeNavigate, canonical)
	}

	c.mu.Lock()
	req.done = true
	c.mu.Unlock()

	c.topics.Publish(pubsub.KindDone.String(), req.url, parts)
	if c.cfg.OnProcessed != nil {
		c.cfg.OnProcessed(req.url)
	}
	if callback != nil {
		callback(nil)
	}
}

func (c *Controller) onError(req *request, kind Kind, err error, callback func(error)) {
	wrapped := &Error{Kind: kind, URL: req.url, Err: err}

	if req.reqType == transport.TypePrefetch {
		c.mu.Lock()
		delete(c.prefetches, req.url)
		c.mu.Unlock()
	}

	c.topics.Publish(pubsub.KindError.String(), wrapped)

	suppress := false
	if c.cfg.OnError != nil {
		suppress = c.cfg.OnError(wrapped)
	}

	if callback != nil {
		callback(wrapped)
	}

	if req.reqType == transport.TypeNavigate && kind.FallsBackToFullPageLoad() && !suppress {
		c.fullPageLoad(req.url)
	}
}

// applyCached replays a cache hit's stored parts through the applier,
// then runs the same completion bookkeeping as a fresh success (minus
// re-issuing a request).
func (c *Controller) applyCached(req *request, parts []*wire.Response) {
	for _, r := range parts {
		if req.reqType != transport.TypePrefetch {
			c.apply.Apply(req.navKey, r, false)
		}
	}
	if req.reqType == transport.TypeNavigate {
		canonical := canonicalURL(parts, req.url)
		if !req.isHistoryPop && c.hist != nil {
			c.hist.Add(canonical, history.State{})
		}
	}
	c.topics.Publish(pubsub.KindDone.String(), req.url, parts)
	if c.cfg.OnProcessed != nil {
		c.cfg.OnProcessed(req.url)
	}
}

// replayPromoted applies any parts a prefetch already accumulated
// before it was promoted to the current navigation, then lets the
// in-flight request's own OnPart/OnSuccess handlers (already wired
// when it was issued as a prefetch, still pointed at the same req)
// continue delivering the rest. Since those handlers were captured
// with reqType==prefetch at issue time, subsequent parts would
// otherwise skip applying; promotion flips req.reqType to navigate so
// later onPart calls do apply.
func (c *Controller) replayPromoted(req *request) {
	c.mu.Lock()
	parts := append([]*wire.Response(nil), req.parts...)
	c.mu.Unlock()
	for _, r := range parts {
		c.apply.Apply(req.navKey, r, false)
	}
}

func (c *Controller) publish(kind pubsub.Kind, args ...any) {
	c.topics.Publish(kind.String(), args...)
}

func (c *Controller) publishRequested(req *request, back bool) {
	c.topics.Publish(pubsub.KindRequest.String(), req.url, back)
	if c.cfg.OnRequested != nil {
		c.cfg.OnRequested(req.url)
	}
}

func (c *Controller) fullPageLoad(url string) {
	if c.fallback != nil {
		c.fallback.Assign(url)
	}
}

// gatedFallback publishes a classified error for a navigation that
// never reached the request layer (no history binding, session cap
// reached), then falls back unless a host's OnError callback suppresses
// it. Both kinds always fall back per spec.md §7, so suppression here
// only skips window.location assignment, not the published spferror.
func (c *Controller) gatedFallback(kind Kind, url string) {
	wrapped := &Error{Kind: kind, URL: url}
	c.topics.Publish(pubsub.KindError.String(), wrapped)

	suppress := false
	if c.cfg.OnError != nil {
		suppress = c.cfg.OnError(wrapped)
	}
	if !suppress {
		c.fullPageLoad(url)
	}
}

func canonicalURL(parts []*wire.Response, fallback string) string {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].HasURL && parts[i].URL != "" {
			return parts[i].URL
		}
	}
	return fallback
}
