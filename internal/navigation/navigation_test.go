package navigation

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/spfgo/internal/applier"
	"github.com/use-agent/spfgo/internal/cache"
	"github.com/use-agent/spfgo/internal/dom/htmldom"
	"github.com/use-agent/spfgo/internal/history"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
	"github.com/use-agent/spfgo/internal/resource"
	"github.com/use-agent/spfgo/internal/transport"
)

type fakeFallback struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeFallback) Assign(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
}

func (f *fakeFallback) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeHistoryPrimitive struct {
	mu       sync.Mutex
	url      string
	pushes   []string
	replaces []string
}

func (p *fakeHistoryPrimitive) PushState(url string, _ history.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, url)
	p.url = url
}
func (p *fakeHistoryPrimitive) ReplaceState(url string, _ history.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaces = append(p.replaces, url)
	p.url = url
}
func (p *fakeHistoryPrimitive) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakeHistoryPrimitive) pushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

type testRig struct {
	ctrl     *Controller
	doc      *htmldom.Document
	fallback *fakeFallback
	hist     *fakeHistoryPrimitive
	topics   *pubsub.Dispatcher
	events   []string
	eventsMu sync.Mutex
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	doc, err := htmldom.New(`<html><head></head><body><div id="main"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	qm := queue.NewManager()
	scripts := resource.NewLoader(doc, qm, nil)
	styles := resource.NewLoader(doc, qm, nil)
	topics := pubsub.New()
	a := applier.New(doc, scripts, styles, qm, topics, nil, nil)
	c := cache.New(cache.DefaultConfig(), nil)
	tc := transport.NewClient("", 0, 0)
	fallback := &fakeFallback{}

	rig := &testRig{doc: doc, fallback: fallback, topics: topics}
	for _, ev := range []pubsub.Kind{pubsub.KindRequest, pubsub.KindReceived, pubsub.KindPartReceived, pubsub.KindPartProcessed, pubsub.KindDone, pubsub.KindError} {
		k := ev
		topics.Subscribe(k.String(), func(args ...any) {
			rig.eventsMu.Lock()
			rig.events = append(rig.events, k.String())
			rig.eventsMu.Unlock()
		})
	}

	if cfg.CacheLifetime == 0 {
		cfg.CacheLifetime = time.Minute
	}
	ctrl := New(cfg, c, tc, a, topics, qm, fallback, nil)

	hp := &fakeHistoryPrimitive{url: "/start"}
	hb := history.New(hp, ctrl.HandlePop)
	ctrl.SetHistory(hb)

	rig.ctrl = ctrl
	rig.hist = hp
	return rig
}

func (r *testRig) seenEvents() []string {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestNavigateAppliesSingleResponseAndUpdatesHistoryAndCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"Hello"}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	rig.ctrl.Navigate(srv.URL + "/page")

	waitFor(t, func() bool { return rig.doc.Title() == "Hello" })

	waitFor(t, func() bool { return rig.hist.URL() == srv.URL+"/page" })

	if _, ok := rig.ctrl.cache.Get(srv.URL+"/page", cache.TypeNavigate); !ok {
		t.Fatal("expected response to be cached after navigate completes")
	}

	events := rig.seenEvents()
	if len(events) == 0 || events[0] != "spfrequest" {
		t.Fatalf("expected spfrequest first, got %v", events)
	}
	var sawDone bool
	for _, e := range events {
		if e == "spfdone" {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("expected spfdone in sequence, got %v", events)
	}
}

func TestNavigateCacheHitSkipsSecondRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"title":"Once"}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	url := srv.URL + "/cached"
	rig.ctrl.Navigate(url)
	waitFor(t, func() bool { return rig.doc.Title() == "Once" })

	rig.doc.SetTitle("changed locally")
	rig.ctrl.Navigate(url)
	waitFor(t, func() bool { return rig.doc.Title() == "Once" })

	if hits != 1 {
		t.Fatalf("expected exactly one network hit, got %d", hits)
	}
}

func TestNavigateTransportErrorFallsBackToFullPageLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	url := srv.URL + "/broken"
	rig.ctrl.Navigate(url)

	waitFor(t, func() bool { return len(rig.fallback.seen()) == 1 })
	if got := rig.fallback.seen()[0]; got != url {
		t.Fatalf("expected fallback to original url %q, got %q", url, got)
	}
}

func TestNavigateBestEffortApplyDoesNotFallBack(t *testing.T) {
	// An unparseable body classifies as a parse error, which per
	// spec.md §7 still falls back; this test instead exercises that a
	// well-formed-but-redirect-free response with no matching element
	// id simply applies without error (apply steps are best-effort),
	// confirming no accidental fallback fires on a normal response.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"attr":{"does-not-exist":{"class":"x"}}}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	rig.ctrl.Navigate(srv.URL + "/attr-only")

	waitFor(t, func() bool {
		_, ok := rig.ctrl.cache.Get(srv.URL+"/attr-only", cache.TypeNavigate)
		return ok
	})
	if len(rig.fallback.seen()) != 0 {
		t.Fatalf("expected no fallback for a normal apply, got %v", rig.fallback.seen())
	}
}

func TestNavigateSessionCapFallsBackWithoutRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"title":"ok"}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{NavigateLimit: 1, NavigateLifetime: time.Hour})
	rig.ctrl.Navigate(srv.URL + "/a")
	waitFor(t, func() bool { return rig.doc.Title() == "ok" })

	rig.ctrl.Navigate(srv.URL + "/b")
	waitFor(t, func() bool { return len(rig.fallback.seen()) == 1 })

	if hits != 1 {
		t.Fatalf("expected the capped navigation to skip the network, got %d hits", hits)
	}
}

func TestPrefetchThenNavigatePromotesWithoutSecondRequest(t *testing.T) {
	var hits int32
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		<-block
		fmt.Fprint(w, `{"title":"Promoted"}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	url := srv.URL + "/promo"
	rig.ctrl.Prefetch(url, nil)

	time.Sleep(20 * time.Millisecond) // let the prefetch request actually start
	rig.ctrl.Navigate(url)
	close(block)

	waitFor(t, func() bool { return rig.doc.Title() == "Promoted" })
	if hits != 1 {
		t.Fatalf("expected promotion to avoid a second request, got %d hits", hits)
	}
	waitFor(t, func() bool { return rig.hist.URL() == url })
}

func TestIdentifyScenarios(t *testing.T) {
	cases := []struct {
		url, reqType, want string
	}{
		{"/p", "navigate", "/p?spf=navigate"},
		{"/p?a=1", "prefetch", "/p?a=1&spf=prefetch"},
		{"/p#x", "navigate", "/p?spf=navigate#x"},
	}
	for _, tc := range cases {
		got := Identify(tc.url, "?spf=__type__", tc.reqType)
		if got != tc.want {
			t.Errorf("Identify(%q, %q) = %q, want %q", tc.url, tc.reqType, got, tc.want)
		}
	}
}

func TestShouldInterceptRejectsCrossOriginAndModifierAndNoLink(t *testing.T) {
	base := LinkInfo{Classes: []string{"spf-link"}, Origin: "https://example.com"}

	if ok, _ := ShouldIntercept(base, "spf-link", "https://example.com"); !ok {
		t.Fatal("expected a plain same-origin classed link to be intercepted")
	}
	if ok, reason := ShouldIntercept(base, "spf-link", "https://other.com"); ok || reason != KindOrigin {
		t.Fatalf("expected cross-origin link to be rejected as %q, got ok=%v reason=%q", KindOrigin, ok, reason)
	}

	modified := base
	modified.Modifier = true
	if ok, reason := ShouldIntercept(modified, "spf-link", "https://example.com"); ok || reason != "" {
		t.Fatalf("expected modifier-click to be rejected with no classification, got ok=%v reason=%q", ok, reason)
	}

	noLink := base
	noLink.NoLink = true
	if ok, _ := ShouldIntercept(noLink, "spf-link", "https://example.com"); ok {
		t.Fatal("expected nolink-class ancestor to be rejected")
	}

	missingClass := LinkInfo{Origin: "https://example.com"}
	if ok, _ := ShouldIntercept(missingClass, "spf-link", "https://example.com"); ok {
		t.Fatal("expected a link without the configured link-class to be rejected")
	}

	blankTarget := base
	blankTarget.Target = "_blank"
	if ok, _ := ShouldIntercept(blankTarget, "spf-link", "https://example.com"); ok {
		t.Fatal("expected non-default target to be rejected")
	}
}

func TestHistoryBackTriggersHandlePopWithoutNewPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"Back"}`)
	}))
	defer srv.Close()

	rig := newRig(t, Config{})
	url := srv.URL + "/back-target"
	before := rig.hist.pushCount()

	rig.ctrl.HandlePop(url, nil, true)
	waitFor(t, func() bool { return rig.doc.Title() == "Back" })

	if rig.hist.pushCount() != before {
		t.Fatalf("expected no new history push for a pop-driven navigation, got %d new pushes", rig.hist.pushCount()-before)
	}
}

func TestNavigateWithoutHistoryFallsBackAsUnsupported(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"title":"unreachable"}`)
	}))
	defer srv.Close()

	doc, err := htmldom.New(`<html><head></head><body><div id="main"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	qm := queue.NewManager()
	scripts := resource.NewLoader(doc, qm, nil)
	styles := resource.NewLoader(doc, qm, nil)
	topics := pubsub.New()
	a := applier.New(doc, scripts, styles, qm, topics, nil, nil)
	cc := cache.New(cache.DefaultConfig(), nil)
	tc := transport.NewClient("", 0, 0)
	fallback := &fakeFallback{}

	var mu sync.Mutex
	var lastErr *Error
	topics.Subscribe(pubsub.KindError.String(), func(args ...any) {
		if len(args) == 0 {
			return
		}
		if e, ok := args[0].(*Error); ok {
			mu.Lock()
			lastErr = e
			mu.Unlock()
		}
	})

	ctrl := New(Config{CacheLifetime: time.Minute}, cc, tc, a, topics, qm, fallback, nil)
	// No SetHistory call: history modification is unavailable.

	ctrl.Navigate(srv.URL + "/unsupported")

	waitFor(t, func() bool { return len(fallback.seen()) == 1 })
	if got := fallback.seen()[0]; got != srv.URL+"/unsupported" {
		t.Fatalf("expected fallback to the original url, got %q", got)
	}
	if hits != 0 {
		t.Fatalf("expected no network request when history is unavailable, got %d hits", hits)
	}

	mu.Lock()
	defer mu.Unlock()
	if lastErr == nil || lastErr.Kind != KindUnsupported {
		t.Fatalf("expected a published KindUnsupported error, got %+v", lastErr)
	}
}
