// Package wire defines the server wire format (spec.md §6): the
// Response object, its multipart framing, and dynamic partial decoding
// — a response, or any of its parts, may carry any subset of fields.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/ysmood/gson"
)

// DefaultDelimiter is the sentinel separating concatenated parts in a
// multipart body.
const DefaultDelimiter = "\r\n[[[SPF]]]\r\n"

// ScriptRef is one entry of a head/foot scripts list.
type ScriptRef struct {
	URL  string
	Text string
	Name string
}

// Block is the shared head/foot shape: inline CSS plus an ordered list
// of scripts.
type Block struct {
	CSS     string
	Scripts []ScriptRef
}

// BodyFragment is one body-replacement entry, in the order the server
// declared it in the response's "body" object (spec.md §5: scripts
// execute "in the order they appear across head, body fragments (in
// declaration order of ids within the response), and foot").
type BodyFragment struct {
	ID   string
	HTML string
}

// Response is a (possibly partial) server response. Has* flags record
// which keys were actually present in the decoded JSON, since an empty
// string and an absent field mean different things to the applier
// (spec.md §4.F: "Partial responses re-enter ... with whatever fields
// are present").
type Response struct {
	Title     string
	HasTitle  bool
	URL       string
	HasURL    bool
	CacheType string
	HasCache  bool
	CacheKey  string
	Attr      map[string]map[string]string
	HasAttr   bool
	Head      *Block
	Body      []BodyFragment
	HasBody   bool
	Foot      *Block
	Redirect  string
	HasRedirect bool
	Timing    map[string]float64
}

// Decode parses one part's raw JSON bytes into a Response. Fields that
// Response does not declare are not kept.
func Decode(raw []byte) (*Response, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	root := gson.New(generic)
	r := &Response{}

	if v := root.Get("title"); v.Exists() {
		r.Title, r.HasTitle = v.Str(), true
	}
	if v := root.Get("url"); v.Exists() {
		r.URL, r.HasURL = v.Str(), true
	}
	if v := root.Get("cacheType"); v.Exists() {
		r.CacheType, r.HasCache = v.Str(), true
	}
	if v := root.Get("cacheKey"); v.Exists() {
		r.CacheKey = v.Str()
	}
	if v := root.Get("redirect"); v.Exists() {
		r.Redirect, r.HasRedirect = v.Str(), true
	}

	if v := root.Get("attr"); v.Exists() {
		r.Attr = make(map[string]map[string]string)
		for id, attrs := range v.Map() {
			m := make(map[string]string)
			for name, val := range attrs.Map() {
				m[name] = val.Str()
			}
			r.Attr[id] = m
		}
		r.HasAttr = true
	}

	if v := root.Get("head"); v.Exists() {
		r.Head = decodeBlock(v)
	}
	if v := root.Get("foot"); v.Exists() {
		r.Foot = decodeBlock(v)
	}

	if v := root.Get("body"); v.Exists() {
		// gson.Map (and a plain map[string]any from encoding/json) both
		// discard JSON object key order, but the applier must install
		// fragments in the order the server declared their ids. Decode
		// "body" a second time straight off raw into an order-preserving
		// map so that order survives.
		var ordered struct {
			Body *orderedmap.OrderedMap[string, string] `json:"body"`
		}
		if err := json.Unmarshal(raw, &ordered); err == nil && ordered.Body != nil {
			for pair := ordered.Body.Oldest(); pair != nil; pair = pair.Next() {
				r.Body = append(r.Body, BodyFragment{ID: pair.Key, HTML: pair.Value})
			}
		} else {
			for id, html := range v.Map() {
				r.Body = append(r.Body, BodyFragment{ID: id, HTML: html.Str()})
			}
		}
		r.HasBody = true
	}

	if v := root.Get("timing"); v.Exists() {
		r.Timing = make(map[string]float64)
		for k, n := range v.Map() {
			r.Timing[k] = n.Num()
		}
	}

	return r, nil
}

func decodeBlock(v gson.JSON) *Block {
	b := &Block{}
	if css := v.Get("css"); css.Exists() {
		b.CSS = css.Str()
	}
	if scripts := v.Get("scripts"); scripts.Exists() {
		for _, s := range scripts.Arr() {
			b.Scripts = append(b.Scripts, ScriptRef{
				URL:  s.Get("url").Str(),
				Text: s.Get("text").Str(),
				Name: s.Get("name").Str(),
			})
		}
	}
	return b
}

// SplitMultipart splits a full, already-assembled body on delimiter,
// discarding any empty leading/trailing segments. It is the one-shot
// counterpart to internal/transport's streaming splitter, for tests
// that build or inspect whole bodies rather than a live stream.
func SplitMultipart(body []byte, delimiter string) [][]byte {
	if delimiter == "" {
		return [][]byte{body}
	}
	raw := strings.Split(string(body), delimiter)
	var parts [][]byte
	for _, p := range raw {
		if p == "" {
			continue
		}
		parts = append(parts, []byte(p))
	}
	return parts
}

// JoinMultipart concatenates parts with delimiter, the inverse of
// SplitMultipart.
func JoinMultipart(parts [][]byte, delimiter string) []byte {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = string(p)
	}
	return []byte(strings.Join(strs, delimiter))
}
