// Package applier implements the response applier (spec.md §4.F): the
// seven-step idempotent apply order that installs a (possibly partial)
// wire.Response into a dom.Document, gating fragment scripts on the
// per-navigation task queue so declaration order survives network
// stalls.
package applier

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/spfgo/internal/dom"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
	"github.com/use-agent/spfgo/internal/resource"
	"github.com/use-agent/spfgo/internal/wire"
)

// Navigator is the subset of the navigation controller the applier
// hands off to on a redirect response.
type Navigator interface {
	Navigate(url string)
}

// DebugLogger renders an installed fragment for human inspection. A nil
// DebugLogger disables this (optional, per spec.md §1's "debug
// logging" external collaborator).
type DebugLogger interface {
	LogFragment(id, html string)
}

// Applier mediates the document, the two resource loaders, and the
// task queue manager to install one response at a time.
type Applier struct {
	doc     dom.Document
	scripts *resource.Loader
	styles  *resource.Loader
	queue   *queue.Manager
	topics  *pubsub.Dispatcher
	nav     Navigator
	debug   DebugLogger
}

// New constructs an Applier. nav and debug may be nil.
func New(doc dom.Document, scripts, styles *resource.Loader, qm *queue.Manager, topics *pubsub.Dispatcher, nav Navigator, debug DebugLogger) *Applier {
	return &Applier{doc: doc, scripts: scripts, styles: styles, queue: qm, topics: topics, nav: nav, debug: debug}
}

// SetNavigator attaches the redirect-handoff target after construction,
// for the common case where the navigator itself depends on this
// Applier (the navigation controller owns both).
func (a *Applier) SetNavigator(nav Navigator) {
	a.nav = nav
}

// Apply installs r under the per-navigation queue key navKey, following
// spec.md §4.F's seven steps. last marks the final part of a multipart
// response (or the only part of a single response); on it, Apply
// publishes spfdone after spfprocess.
func (a *Applier) Apply(navKey string, r *wire.Response, last bool) {
	if r.HasRedirect && r.Redirect != "" {
		if a.nav != nil {
			a.nav.Navigate(r.Redirect)
		}
		return
	}

	if r.HasTitle {
		a.doc.SetTitle(r.Title)
	}

	// cacheType (step 3) is informational to the navigation controller,
	// which reads r.CacheType/r.HasCache directly; the applier does not
	// act on it.

	if r.HasAttr {
		a.applyAttrs(r.Attr)
	}

	if r.Head != nil {
		a.installBlock(navKey, r.Head)
	}

	if r.HasBody {
		for _, frag := range r.Body {
			a.applyBodyFragment(navKey, frag.ID, frag.HTML)
		}
	}

	if r.Foot != nil {
		a.installBlock(navKey, r.Foot)
	}

	if a.topics != nil {
		a.topics.Publish(pubsub.KindProcessed.String(), r)
		if last {
			a.topics.Publish(pubsub.KindDone.String(), r)
		}
	}
}

// applyAttrs implements step 4's special cases: class sets className,
// style sets style.cssText, value sets both the attribute and the live
// property (the dom.Element implementation collapses these as needed).
func (a *Applier) applyAttrs(attrs map[string]map[string]string) {
	for id, kv := range attrs {
		el, ok := a.doc.ElementByID(id)
		if !ok {
			continue
		}
		for name, value := range kv {
			el.SetAttr(name, value)
		}
	}
}

// installBlock installs a head/foot block: inline CSS first (does not
// gate progress), then scripts in order, each gated through navKey so
// declaration order survives a slow load.
func (a *Applier) installBlock(navKey string, b *wire.Block) {
	if b.CSS != "" {
		a.styles.CreateInline(resource.KindStyle, b.CSS, nil)
	}
	for _, s := range b.Scripts {
		a.enqueueScript(navKey, s)
	}
	a.queue.Run(navKey, false)
}

// enqueueScript appends one script installation to navKey's queue. The
// task suspends the queue before installing, and the resource loader's
// completion callback resumes it, so the next queued script (whether
// from this fragment or a later one) waits for this one.
func (a *Applier) enqueueScript(navKey string, s wire.ScriptRef) {
	a.queue.Add(navKey, func() {
		a.queue.Suspend(navKey)
		resume := func() { a.queue.Resume(navKey, false) }
		if s.URL != "" {
			a.scripts.Load(resource.KindScript, []string{s.URL}, s.Name, resume)
		} else {
			a.scripts.CreateInline(resource.KindScript, s.Text, func(dom.Element) { resume() })
		}
	}, 0)
}

// applyBodyFragment implements step 6: extract and install the
// fragment's referenced styles, swap the element's children, then
// schedule its scripts on navKey so order is preserved across
// fragments.
func (a *Applier) applyBodyFragment(navKey, id, fragmentHTML string) {
	content, styleCSS, styleURLs, scripts, err := extractFragmentResources(fragmentHTML)
	if err != nil {
		content = fragmentHTML
	}

	for _, css := range styleCSS {
		a.styles.CreateInline(resource.KindStyle, css, nil)
	}
	if len(styleURLs) > 0 {
		a.styles.Load(resource.KindStyle, styleURLs, "", nil)
	}

	if el, ok := a.doc.ElementByID(id); ok {
		el.SetInnerHTML(content)
	}
	if a.debug != nil {
		a.debug.LogFragment(id, content)
	}

	for _, s := range scripts {
		a.enqueueScript(navKey, s)
	}
	a.queue.Run(navKey, false)
}

// extractFragmentResources pulls <style>, <link rel=stylesheet>, and
// <script> elements out of an HTML fragment, in the order they occur,
// and returns the remaining content HTML for installation into the
// target element.
func extractFragmentResources(fragmentHTML string) (content string, styleCSS, styleURLs []string, scripts []wire.ScriptRef, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragmentHTML))
	if err != nil {
		return "", nil, nil, nil, err
	}

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		css, _ := s.Html()
		styleCSS = append(styleCSS, css)
		s.Remove()
	})
	doc.Find("link[rel=stylesheet]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href != "" {
			styleURLs = append(styleURLs, href)
		}
		s.Remove()
	})
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			name, _ := s.Attr("data-name")
			scripts = append(scripts, wire.ScriptRef{URL: src, Name: name})
		} else {
			text, _ := s.Html()
			scripts = append(scripts, wire.ScriptRef{Text: text})
		}
		s.Remove()
	})

	content, err = doc.Find("body").Html()
	return content, styleCSS, styleURLs, scripts, err
}
