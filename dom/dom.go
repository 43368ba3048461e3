// Package dom is the document collaborator boundary: it owns parsing HTML
// into a live tree and hands out element handles to the scoring core.
//
// Handles are non-owning back-references. The core never controls element
// lifetime; before side-effecting through a handle it must re-validate
// attachment via Document.IsAttached — virtualized feeds detach and recycle
// nodes constantly.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document wraps a parsed HTML tree together with its page URL. The URL
// may be read and updated from different goroutines (SPA navigation is
// detected by polling); the tree itself has a single writer.
type Document struct {
	root *html.Node

	mu   sync.RWMutex
	url  string
	host string
}

// Parse reads and parses an HTML document. pageURL may be empty for
// documents without a known origin (generic-walk rules then apply).
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := &Document{root: root, url: pageURL}
	d.host = hostOf(pageURL)
	return d, nil
}

// ParseFragment parses a detached HTML fragment in a body context, as a
// browser does for inserted mutation subtrees. It returns the fragment's
// top-level nodes.
func ParseFragment(fragment string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

func hostOf(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// Root returns the document root node.
func (d *Document) Root() *html.Node { return d.root }

// URL returns the current page URL.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Host returns the page hostname without a leading "www.".
func (d *Document) Host() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.host
}

// SetURL updates the page URL in place (SPA navigation: the document
// object survives, the location changes).
func (d *Document) SetURL(pageURL string) {
	d.mu.Lock()
	d.url = pageURL
	d.host = hostOf(pageURL)
	d.mu.Unlock()
}

// IsAttached reports whether n is still reachable from the document root.
// Detached (removed or recycled) nodes must not receive scoring results.
func (d *Document) IsAttached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// QuerySelectorAll matches a CSS selector against the whole document.
// Malformed selectors return an error rather than panicking — callers skip
// the offending selector group and continue.
func (d *Document) QuerySelectorAll(selector string) ([]*html.Node, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	return sel.MatchAll(d.root), nil
}

// Remove detaches n from its parent. Used by tests and by synthetic
// mutation feeds; a real page performs the equivalent via the browser.
func Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Append attaches child under parent.
func Append(parent, child *html.Node) {
	parent.AppendChild(child)
}

// Attr returns the value of an attribute on n, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether n carries the attribute.
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute on n.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// Render serialises a node subtree back to HTML.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}

// Text collects the visible text of a subtree: script/style/noscript and
// hidden elements are skipped, text nodes are joined with single spaces.
func Text(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb, nil)
	return sb.String()
}

// TextExcluding collects visible text while skipping any subtree matched
// by one of the excluded selectors (engagement counters, usernames,
// interaction buttons inside trusted matches).
func TextExcluding(n *html.Node, excluded []Selector) string {
	var sb strings.Builder
	collectText(n, &sb, excluded)
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder, excluded []Selector) {
	if n.Type == html.TextNode {
		t := strings.TrimSpace(n.Data)
		if t != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(t)
		}
		return
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		}
		if IsHidden(n) {
			return
		}
		for _, sel := range excluded {
			if sel.Matches(n) {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb, excluded)
	}
}

// WalkElements calls fn for every element node under root, in document
// order. Returning false from fn prunes that subtree.
func WalkElements(root *html.Node, fn func(*html.Node) bool) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && !fn(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}
