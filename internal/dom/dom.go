// Package dom defines the DOM collaborator interface treated as an
// external dependency by spec.md §1/§6: element lookup, attribute
// mutation, child replacement, and head insertion. Implementations live
// under internal/dom/htmldom (a goquery-backed reference document used
// by tests and the demo binaries) or can be supplied by a host embedding
// this module.
package dom

// Element is a single DOM node identified by an id attribute.
type Element interface {
	// ID returns the element's id attribute.
	ID() string

	// SetAttr sets a single attribute, honoring the special cases from
	// spec.md §4.F step 4: "class" sets className, "style" sets the
	// inline style text, "value" sets both the attribute and (for form
	// controls) the live value property.
	SetAttr(name, value string) error

	// SetInnerHTML replaces the element's children with the parsed
	// fragment html.
	SetInnerHTML(html string) error

	// InnerHTML returns the element's current serialized children.
	InnerHTML() (string, error)

	// Remove detaches the element from the document entirely.
	Remove() error
}

// Document is the page-level collaborator: element lookup by id and
// head manipulation (script/style insertion order, per spec.md §4.D).
type Document interface {
	// ElementByID returns the element with the given id, or ok=false if
	// no such element exists in the document.
	ElementByID(id string) (Element, bool)

	// SetTitle sets document.title.
	SetTitle(title string)

	// Title returns the current document title.
	Title() string

	// HeadPrependChild inserts html's root element as the head's first
	// child (used for scripts, which must execute before other head
	// content per spec.md §4.D's "insert ... before the first existing
	// head child").
	HeadPrependChild(html string) error

	// HeadAppendChild appends html's root element to the end of head
	// (used for stylesheets, preserving cascade order).
	HeadAppendChild(html string) error

	// HeadElementsWithIDPrefix returns the ids of every head child whose
	// id carries the given prefix, used by resource.Loader.Discover to
	// register server-rendered resources as already-loaded.
	HeadElementsWithIDPrefix(prefix string) []string
}
