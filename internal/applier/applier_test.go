package applier

import (
	"strings"
	"testing"
	"time"

	"github.com/use-agent/spfgo/internal/dom"
	"github.com/use-agent/spfgo/internal/dom/htmldom"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/internal/queue"
	"github.com/use-agent/spfgo/internal/resource"
	"github.com/use-agent/spfgo/internal/wire"
)

type fakeNav struct{ urls []string }

func (n *fakeNav) Navigate(url string) { n.urls = append(n.urls, url) }

type fakeDebug struct {
	fragments map[string]string
	order     []string
}

func (d *fakeDebug) LogFragment(id, html string) {
	if d.fragments == nil {
		d.fragments = make(map[string]string)
	}
	d.fragments[id] = html
	d.order = append(d.order, id)
}

func newTestApplier(t *testing.T, initialHTML string) (*Applier, *htmldom.Document, *fakeNav, *fakeDebug, *pubsub.Dispatcher) {
	t.Helper()
	doc, err := htmldom.New(initialHTML)
	if err != nil {
		t.Fatal(err)
	}
	qm := queue.NewManager()
	scripts := resource.NewLoader(doc, qm, nil)
	styles := resource.NewLoader(doc, qm, nil)
	topics := pubsub.New()
	nav := &fakeNav{}
	debug := &fakeDebug{}
	return New(doc, scripts, styles, qm, topics, nav, debug), doc, nav, debug, topics
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestApplyRedirectHandsOffAndStops(t *testing.T) {
	a, _, nav, _, _ := newTestApplier(t, "")
	r := &wire.Response{HasRedirect: true, Redirect: "/elsewhere", HasTitle: true, Title: "should not apply"}
	a.Apply("navigate-1", r, true)
	if len(nav.urls) != 1 || nav.urls[0] != "/elsewhere" {
		t.Fatalf("expected a single Navigate(/elsewhere), got %v", nav.urls)
	}
}

func TestApplyTitleAndAttr(t *testing.T) {
	a, doc, _, _, _ := newTestApplier(t, `<html><head></head><body><div id="nav"></div></body></html>`)
	r := &wire.Response{
		HasTitle: true, Title: "Hello",
		HasAttr: true, Attr: map[string]map[string]string{"nav": {"class": "active"}},
	}
	a.Apply("navigate-1", r, true)

	if doc.Title() != "Hello" {
		t.Fatalf("expected title Hello, got %q", doc.Title())
	}
	html, _ := doc.HTML()
	if !strings.Contains(html, `class="active"`) {
		t.Fatalf("expected nav element to carry class=active, got %s", html)
	}
}

func TestApplyBodySwapsContentAndInstallsScript(t *testing.T) {
	a, doc, _, debug, _ := newTestApplier(t, `<html><head></head><body><div id="content"></div></body></html>`)
	r := &wire.Response{
		HasBody: true,
		Body:    []wire.BodyFragment{{ID: "content", HTML: `<p>hi</p><script src="/frag.js"></script>`}},
	}
	a.Apply("navigate-1", r, true)

	el, ok := doc.ElementByID("content")
	if !ok {
		t.Fatal("expected #content to exist")
	}
	eventually(t, func() bool {
		inner, _ := el.InnerHTML()
		return strings.Contains(inner, "<p>hi</p>")
	})

	eventually(t, func() bool {
		ids := doc.HeadElementsWithIDPrefix("spf-s-")
		return len(ids) == 1
	})

	if debug.fragments["content"] == "" {
		t.Fatal("expected debug logger to capture the installed fragment")
	}
}

func TestApplyPublishesProcessThenDoneOnLastPart(t *testing.T) {
	a, _, _, _, topics := newTestApplier(t, "")
	var events []string
	topics.Subscribe(pubsub.KindProcessed.String(), func(...any) { events = append(events, "process") })
	topics.Subscribe(pubsub.KindDone.String(), func(...any) { events = append(events, "done") })

	a.Apply("navigate-1", &wire.Response{HasTitle: true, Title: "part 1"}, false)
	a.Apply("navigate-1", &wire.Response{HasTitle: true, Title: "part 2"}, true)

	if len(events) != 3 || events[0] != "process" || events[1] != "process" || events[2] != "done" {
		t.Fatalf("expected [process, process, done], got %v", events)
	}
}

func TestApplyInstallsBodyFragmentsInDeclarationOrder(t *testing.T) {
	a, _, _, debug, _ := newTestApplier(t, `<html><head></head><body>
		<div id="zeta"></div><div id="alpha"></div><div id="middle"></div>
	</body></html>`)
	r := &wire.Response{
		HasBody: true,
		Body: []wire.BodyFragment{
			{ID: "zeta", HTML: "<p>z</p>"},
			{ID: "alpha", HTML: "<p>a</p>"},
			{ID: "middle", HTML: "<p>m</p>"},
		},
	}
	a.Apply("navigate-1", r, true)

	eventually(t, func() bool { return len(debug.order) == 3 })
	want := []string{"zeta", "alpha", "middle"}
	for i, id := range want {
		if debug.order[i] != id {
			t.Fatalf("fragment install order = %v, want %v", debug.order, want)
		}
	}
}

func TestApplyHeadInstallsStylesAndScripts(t *testing.T) {
	a, doc, _, _, _ := newTestApplier(t, "")
	r := &wire.Response{
		Head: &wire.Block{
			CSS:     "body{color:red}",
			Scripts: []wire.ScriptRef{{URL: "/a.js"}, {URL: "/b.js"}},
		},
	}
	a.Apply("navigate-1", r, true)

	eventually(t, func() bool {
		return len(doc.HeadElementsWithIDPrefix("spf-s-")) == 2
	})
	html, _ := doc.HTML()
	if !strings.Contains(html, "color:red") {
		t.Fatalf("expected inline style CSS text installed, got %s", html)
	}
}

var _ dom.Document = (*htmldom.Document)(nil)
