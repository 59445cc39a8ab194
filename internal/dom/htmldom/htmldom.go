// Package htmldom is the reference dom.Document implementation: a
// goquery-backed, cascadia-queried in-memory node tree that the demo
// binaries and internal tests use in place of a browser tab. It is
// grounded on cleaner/pipeline.go's goquery parse-and-query use in the
// teacher repo, extended from read-only inspection to mutation.
package htmldom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/spfgo/internal/dom"
)

// Document is a mutable HTML document backed by goquery/x-net-html.
type Document struct {
	gq *goquery.Document
}

// New parses initialHTML (a full document or fragment) into a fresh
// Document. An empty string produces a minimal <html><head></head>
// <body></body></html> skeleton.
func New(initialHTML string) (*Document, error) {
	if strings.TrimSpace(initialHTML) == "" {
		initialHTML = "<html><head></head><body></body></html>"
	}
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(initialHTML))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{gq: gq}, nil
}

// ElementByID compiles and runs a cascadia "#id" selector against the
// document's root node directly, rather than going through goquery's
// Find, so the selector engine the teacher depends on transitively is
// exercised as a first-class dependency of this package.
func (d *Document) ElementByID(id string) (dom.Element, bool) {
	sel, err := cascadia.Compile("#" + cssEscapeID(id))
	if err != nil {
		return nil, false
	}
	root := d.gq.Nodes
	if len(root) == 0 {
		return nil, false
	}
	var match *html.Node
	for _, n := range root {
		if matches := sel.MatchAll(n); len(matches) > 0 {
			match = matches[0]
			break
		}
	}
	if match == nil {
		return nil, false
	}
	return elemDom{node: match, doc: d}, true
}

// cssEscapeID escapes characters that are meaningful in a CSS id
// selector. SPF element ids are framework-controlled strings, but this
// keeps arbitrary host-supplied ids from producing an invalid selector.
func cssEscapeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r == '.' || r == ':' || r == '[' || r == ']' || r == '#' || r == ' ':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SetTitle sets <title>'s text, creating the element under <head> if
// absent.
func (d *Document) SetTitle(title string) {
	sel := d.gq.Find("title")
	if sel.Length() == 0 {
		d.gq.Find("head").AppendHtml("<title></title>")
		sel = d.gq.Find("title")
	}
	sel.SetText(title)
}

// Title returns the current <title> text.
func (d *Document) Title() string {
	return d.gq.Find("title").First().Text()
}

// HeadPrependChild parses fragment and inserts it as head's first child.
func (d *Document) HeadPrependChild(fragment string) error {
	head := d.gq.Find("head").First()
	if head.Length() == 0 {
		return fmt.Errorf("htmldom: document has no <head>")
	}
	head.PrependHtml(fragment)
	return nil
}

// HeadAppendChild parses fragment and appends it to the end of head.
func (d *Document) HeadAppendChild(fragment string) error {
	head := d.gq.Find("head").First()
	if head.Length() == 0 {
		return fmt.Errorf("htmldom: document has no <head>")
	}
	head.AppendHtml(fragment)
	return nil
}

// HeadElementsWithIDPrefix returns the ids of head children whose id
// attribute starts with prefix, in document order.
func (d *Document) HeadElementsWithIDPrefix(prefix string) []string {
	var ids []string
	d.gq.Find("head > *[id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	})
	return ids
}

// HTML returns the full serialized document, for diagnostics and tests.
func (d *Document) HTML() (string, error) {
	return d.gq.Html()
}

// elemDom is the Element implementation returned by ElementByID.
type elemDom struct {
	node *html.Node
	doc  *Document
}

func (e elemDom) sel() *goquery.Selection {
	return goquery.NewDocumentFromNode(e.node).Selection
}

func (e elemDom) ID() string {
	id, _ := e.sel().Attr("id")
	return id
}

// SetAttr applies the special cases from spec.md §4.F step 4: class sets
// className (the class attribute), style sets style.cssText (the style
// attribute's raw text), value sets both the attribute and the live
// value property — in a server-side tree there is no separate live
// property, so both collapse to the same attribute write.
func (e elemDom) SetAttr(name, value string) error {
	s := e.sel()
	switch name {
	case "class":
		s.SetAttr("class", value)
	case "style":
		s.SetAttr("style", value)
	case "value":
		s.SetAttr("value", value)
	default:
		s.SetAttr(name, value)
	}
	return nil
}

func (e elemDom) SetInnerHTML(fragment string) error {
	e.sel().SetHtml(fragment)
	return nil
}

func (e elemDom) InnerHTML() (string, error) {
	return e.sel().Html()
}

// Remove detaches the node from its parent.
func (e elemDom) Remove() error {
	e.sel().Remove()
	return nil
}

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Element  = elemDom{}
)
