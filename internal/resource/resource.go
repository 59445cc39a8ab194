// Package resource implements the shared script/style resource loader
// (spec.md §4.D): load/unload/prefetch/discover/create/path over a
// dom.Document, keyed by a content hash of each resource's URL.
package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/spfgo/internal/dom"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
)

// Kind distinguishes the two resource families the loader manages.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
)

func (k Kind) idPrefix() string {
	if k == KindStyle {
		return "spf-c-"
	}
	return "spf-s-"
}

// Fetcher performs the non-blocking prefetch request for scripts (an
// XHR GET whose body is discarded). Styles prefetch via a <link
// rel=prefetch> element instead and never call this. Supplying nil to
// NewLoader disables script prefetching (Prefetch becomes a no-op for
// scripts); a host normally wires this to internal/transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string) error
}

type status int

const (
	statusLoading status = iota
	statusLoaded
)

type record struct {
	id      string
	kind    Kind
	url     string
	status  status
	element dom.Element
	names   map[string]bool
}

// Loader is the script/style registry. One Loader can hold records of
// both kinds; the (kind, id) pair is the true key.
type Loader struct {
	mu       sync.Mutex
	doc      dom.Document
	fetcher  Fetcher
	topics   *pubsub.Dispatcher
	queue    *queue.Manager
	records  map[string]*record            // "kind/id" -> record
	names    map[Kind]map[string][]string  // kind -> name -> current url set
	prefix   map[Kind]string               // path prefix per kind
	replace  map[Kind]map[string]string    // path replacements per kind
	asyncSeq int64
}

// NewLoader constructs a Loader bound to doc for element injection and
// qm for deferring load-complete callbacks by one tick. fetcher may be
// nil (see Fetcher).
func NewLoader(doc dom.Document, qm *queue.Manager, fetcher Fetcher) *Loader {
	return &Loader{
		doc:     doc,
		fetcher: fetcher,
		topics:  pubsub.New(),
		queue:   qm,
		records: make(map[string]*record),
		names:   make(map[Kind]map[string][]string),
		prefix:  make(map[Kind]string),
		replace: make(map[Kind]map[string]string),
	}
}

// SetPathPrefix applies prefix to every URL of kind before hashing,
// from this call onward.
func (l *Loader) SetPathPrefix(kind Kind, prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefix[kind] = prefix
}

// SetPathReplacements installs a from->to substitution map applied to
// every URL of kind before hashing. Replacement order is unspecified;
// callers must keep the rules disjoint.
func (l *Loader) SetPathReplacements(kind Kind, replacements map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replace[kind] = replacements
}

func (l *Loader) resolve(kind Kind, url string) string {
	for from, to := range l.replace[kind] {
		url = strings.ReplaceAll(url, from, to)
	}
	return l.prefix[kind] + url
}

func hashID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func recKey(kind Kind, id string) string {
	return string(kind) + "/" + id
}

func elementID(kind Kind, id string) string {
	return kind.idPrefix() + id
}

// Load installs every url in urls, in order, under the given name (may
// be empty for an unnamed load). callback fires exactly once, after
// every url in the batch has reached the loaded state; it is always
// invoked asynchronously via the queue manager, never synchronously
// from within Load.
func (l *Loader) Load(kind Kind, urls []string, name string, callback func()) {
	if len(urls) == 0 {
		if callback != nil {
			l.fireAsync(callback)
		}
		return
	}

	var pending int64 = int64(len(urls))
	newURLSet := append([]string(nil), urls...)

	done := func() {
		if atomic.AddInt64(&pending, -1) != 0 {
			return
		}
		if name != "" {
			l.swapName(kind, name, newURLSet)
		}
		if callback != nil {
			callback()
		}
	}

	var toInject []string // urls needing fresh element injection, in order

	l.mu.Lock()
	for _, raw := range urls {
		resolved := l.resolve(kind, raw)
		id := hashID(resolved)
		key := recKey(kind, id)
		rec, ok := l.records[key]
		if !ok {
			rec = &record{id: id, kind: kind, url: resolved, status: statusLoading, names: make(map[string]bool)}
			l.records[key] = rec
			toInject = append(toInject, resolved)
		}
		if name != "" {
			rec.names[name] = true
		}
		switch rec.status {
		case statusLoaded:
			l.fireAsync(done)
		default:
			l.topics.Subscribe(topicFor(kind, id), func(...any) { done() })
		}
	}
	l.mu.Unlock()

	if len(toInject) > 0 {
		l.inject(kind, toInject)
	}
}

// topicFor names the pubsub topic a resource's waiters subscribe to.
func topicFor(kind Kind, id string) string {
	return "resource/" + string(kind) + "/" + id
}

// inject creates DOM elements for the given (already-resolved) urls,
// in order, and marks each loaded once "inserted" (a virtual DOM has no
// real network wait, so load completion is simulated immediately after
// insertion, deferred by one tick to match the browser-quirk masking
// spec.md §4.D documents for real script load events).
func (l *Loader) inject(kind Kind, urls []string) {
	var html strings.Builder
	elems := make(map[string]string) // url -> element id, preserved order via urls slice

	for _, url := range urls {
		id := hashID(url)
		eid := elementID(kind, id)
		elems[url] = eid
		html.WriteString(elementHTML(kind, eid, url))
	}

	switch kind {
	case KindScript:
		// Insert the whole batch in one prepend so a,b,c land in that
		// order before the head's original first child (the ordering
		// contract from spec.md §4.D).
		l.doc.HeadPrependChild(html.String())
	case KindStyle:
		// Styles append one at a time; repeated AppendChild already
		// preserves cascade order.
		for _, url := range urls {
			l.doc.HeadAppendChild(elementHTML(kind, elems[url], url))
		}
	}

	for _, url := range urls {
		id := hashID(url)
		eid := elems[url]
		el, _ := l.doc.ElementByID(eid)
		l.markLoaded(kind, id, el)
	}
}

func elementHTML(kind Kind, id, url string) string {
	if kind == KindStyle {
		return fmt.Sprintf(`<link id="%s" rel="stylesheet" href="%s">`, id, url)
	}
	return fmt.Sprintf(`<script id="%s" async src="%s"></script>`, id, url)
}

func (l *Loader) markLoaded(kind Kind, id string, el dom.Element) {
	l.mu.Lock()
	rec, ok := l.records[recKey(kind, id)]
	if ok {
		rec.status = statusLoaded
		rec.element = el
	}
	l.mu.Unlock()
	if ok {
		l.fireAsync(func() { l.topics.Flush(topicFor(kind, id)) })
	}
}

// fireAsync defers fn by one queue tick, on its own throwaway queue key,
// so callers observing Load never see a synchronous callback.
func (l *Loader) fireAsync(fn func()) {
	key := fmt.Sprintf("resource-async-%d", atomic.AddInt64(&l.asyncSeq, 1))
	l.queue.Add(key, fn, 0)
	l.queue.Run(key, false)
}

// swapName records newURLs as name's current association and unloads
// whatever urls name previously pointed at that are not also in
// newURLs, supporting "swap versions of main".
func (l *Loader) swapName(kind Kind, name string, newURLs []string) {
	l.mu.Lock()
	prev := l.names[kind][name]
	if l.names[kind] == nil {
		l.names[kind] = make(map[string][]string)
	}
	l.names[kind][name] = newURLs
	l.mu.Unlock()

	keep := make(map[string]bool, len(newURLs))
	for _, u := range newURLs {
		keep[l.resolve(kind, u)] = true
	}
	var stale []string
	for _, u := range prev {
		resolved := l.resolve(kind, u)
		if !keep[resolved] {
			stale = append(stale, resolved)
		}
	}
	if len(stale) > 0 {
		l.removeResolved(kind, name, stale)
	}
}

// Unload removes the DOM element for every url currently associated
// with name under kind, drops pending callbacks, and forgets the
// mapping. Resources injected via Create are unnameable and unaffected.
func (l *Loader) Unload(kind Kind, name string) {
	l.mu.Lock()
	urls := l.names[kind][name]
	delete(l.names[kind], name)
	l.mu.Unlock()
	if len(urls) == 0 {
		return
	}
	resolved := make([]string, len(urls))
	for i, u := range urls {
		resolved[i] = l.resolve(kind, u)
	}
	l.removeResolved(kind, name, resolved)
}

func (l *Loader) removeResolved(kind Kind, name string, resolvedURLs []string) {
	for _, url := range resolvedURLs {
		id := hashID(url)
		key := recKey(kind, id)

		l.mu.Lock()
		rec, ok := l.records[key]
		if ok {
			delete(rec.names, name)
			orphan := len(rec.names) == 0
			if orphan {
				delete(l.records, key)
			}
			l.mu.Unlock()
			if orphan {
				if rec.element != nil {
					rec.element.Remove()
				}
				l.topics.Clear(topicFor(kind, id))
			}
			continue
		}
		l.mu.Unlock()
	}
}

// Prefetch primes the browser cache for url without marking it loaded;
// a subsequent Load for the same url still installs it fully. Scripts
// prefetch through Fetcher (an XHR GET whose body is discarded); styles
// prefetch via a <link rel=prefetch> element appended to head.
func (l *Loader) Prefetch(ctx context.Context, kind Kind, url string) error {
	resolved := l.resolve(kind, url)
	switch kind {
	case KindScript:
		if l.fetcher == nil {
			return nil
		}
		return l.fetcher.Fetch(ctx, resolved)
	case KindStyle:
		return l.doc.HeadAppendChild(fmt.Sprintf(`<link rel="prefetch" href="%s">`, resolved))
	}
	return nil
}

// Discover walks the document head and registers any existing elements
// bearing the framework's id prefix for kind as already-loaded records,
// used after server-rendered first paint.
func (l *Loader) Discover(kind Kind) {
	prefix := kind.idPrefix()
	ids := l.doc.HeadElementsWithIDPrefix(prefix)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, full := range ids {
		id := strings.TrimPrefix(full, prefix)
		key := recKey(kind, id)
		if _, exists := l.records[key]; exists {
			continue
		}
		el, _ := l.doc.ElementByID(full)
		l.records[key] = &record{id: id, kind: kind, status: statusLoaded, element: el, names: make(map[string]bool)}
	}
}

// Create unconditionally injects a resource, bypassing the registry.
// The returned element belongs to the caller; the loader never tracks
// or unloads it. callback fires once insertion completes, deferred by
// one queue tick like Load's callbacks.
func (l *Loader) Create(kind Kind, url string, callback func(dom.Element)) (dom.Element, error) {
	resolved := l.resolve(kind, url)
	id := time.Now().Format("150405.000000") + "-" + hashID(resolved)
	html := elementHTML(kind, id, resolved)
	var err error
	if kind == KindStyle {
		err = l.doc.HeadAppendChild(html)
	} else {
		err = l.doc.HeadPrependChild(html)
	}
	if err != nil {
		return nil, err
	}
	el, ok := l.doc.ElementByID(id)
	if !ok {
		return nil, fmt.Errorf("resource: create: element %q not found after insertion", id)
	}
	if callback != nil {
		l.fireAsync(func() { callback(el) })
	}
	return el, nil
}

// CreateInline unconditionally injects an element carrying literal
// content rather than a url-sourced resource: inline CSS text for
// styles, inline script source for scripts. Like Create, it bypasses
// the registry and is the caller's to own.
func (l *Loader) CreateInline(kind Kind, content string, callback func(dom.Element)) (dom.Element, error) {
	id := time.Now().Format("150405.000000") + "-" + hashID(content)
	html := inlineElementHTML(kind, id, content)
	var err error
	if kind == KindStyle {
		err = l.doc.HeadAppendChild(html)
	} else {
		err = l.doc.HeadPrependChild(html)
	}
	if err != nil {
		return nil, err
	}
	el, ok := l.doc.ElementByID(id)
	if !ok {
		return nil, fmt.Errorf("resource: createInline: element %q not found after insertion", id)
	}
	if callback != nil {
		l.fireAsync(func() { callback(el) })
	}
	return el, nil
}

func inlineElementHTML(kind Kind, id, content string) string {
	if kind == KindStyle {
		return fmt.Sprintf(`<style id="%s">%s</style>`, id, content)
	}
	return fmt.Sprintf(`<script id="%s">%s</script>`, id, content)
}
