package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled CSS selector covering the subset the scoring core
// needs: tag, .class, #id, [attr], [attr=val], chained attribute groups
// like div[dir=auto][style], and descendant combination by whitespace.
// Anything outside that subset is a parse error — unusual
// pages produce unusual selectors, and a malformed one must never abort a
// scan, so callers get an error to skip instead of a panic.
type Selector struct {
	parts []simpleSelector
	raw   string
}

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

// attrMatch is one [key] or [key=val] group. An empty val means
// presence-only.
type attrMatch struct {
	key string
	val string
}

// ParseSelector compiles a selector string.
func ParseSelector(selector string) (Selector, error) {
	fields := strings.Fields(selector)
	if len(fields) == 0 {
		return Selector{}, fmt.Errorf("dom: empty selector")
	}
	parts := make([]simpleSelector, 0, len(fields))
	for _, f := range fields {
		p, err := parseSimple(f)
		if err != nil {
			return Selector{}, fmt.Errorf("dom: selector %q: %w", selector, err)
		}
		parts = append(parts, p)
	}
	return Selector{parts: parts, raw: selector}, nil
}

// MustSelector is ParseSelector for compile-time-constant selectors.
func MustSelector(selector string) Selector {
	s, err := ParseSelector(selector)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseSelectors compiles each selector independently. Malformed entries
// are reported but do not fail the rest of the group.
func ParseSelectors(selectors []string) (ok []Selector, errs []error) {
	for _, raw := range selectors {
		s, err := ParseSelector(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ok = append(ok, s)
	}
	return ok, errs
}

func parseSimple(sel string) (simpleSelector, error) {
	var s simpleSelector

	if strings.ContainsAny(sel, ">+~:()") {
		return s, fmt.Errorf("unsupported selector syntax %q", sel)
	}

	// Attribute suffix: tag[attr], tag[attr=val], chained groups like
	// div[dir=auto][style]. Each group must be individually bracketed.
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		rest := sel[idx:]
		sel = sel[:idx]
		for rest != "" {
			if rest[0] != '[' {
				return s, fmt.Errorf("malformed attribute selector %q", rest)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return s, fmt.Errorf("unbalanced attribute selector %q", rest)
			}
			group := rest[1:end]
			rest = rest[end+1:]
			if group == "" || strings.IndexByte(group, '[') >= 0 {
				return s, fmt.Errorf("malformed attribute selector group %q", group)
			}
			var m attrMatch
			if eq := strings.IndexByte(group, '='); eq >= 0 {
				m.key = group[:eq]
				m.val = strings.Trim(group[eq+1:], `"'`)
			} else {
				m.key = group
			}
			if m.key == "" {
				return s, fmt.Errorf("empty attribute key in %q", group)
			}
			s.attrs = append(s.attrs, m)
		}
	} else if strings.IndexByte(sel, ']') >= 0 {
		return s, fmt.Errorf("unbalanced attribute selector %q", sel)
	}

	// #id (at most one).
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		rest := sel[idx+1:]
		if rest == "" || strings.ContainsAny(rest, "#.") {
			return s, fmt.Errorf("malformed id selector %q", sel)
		}
		s.id = rest
		sel = sel[:idx]
	}

	// .class (possibly several).
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		for _, c := range strings.Split(sel[idx+1:], ".") {
			if c == "" {
				return s, fmt.Errorf("malformed class selector %q", sel)
			}
			s.classes = append(s.classes, c)
		}
		sel = sel[:idx]
	}

	s.tag = sel
	if s.tag == "" && s.id == "" && len(s.classes) == 0 && len(s.attrs) == 0 {
		return s, fmt.Errorf("empty selector part")
	}
	return s, nil
}

// String returns the original selector text.
func (s Selector) String() string { return s.raw }

// Matches reports whether n matches the final part of the selector and,
// for descendant selectors, has ancestors matching the leading parts.
func (s Selector) Matches(n *html.Node) bool {
	if len(s.parts) == 0 {
		return false
	}
	last := len(s.parts) - 1
	if !matchPart(n, s.parts[last]) {
		return false
	}
	// Walk ancestors for the remaining parts, right to left.
	part := last - 1
	for p := n.Parent; p != nil && part >= 0; p = p.Parent {
		if matchPart(p, s.parts[part]) {
			part--
		}
	}
	return part < 0
}

// MatchAll returns every node under root matching the selector, in
// document order.
func (s Selector) MatchAll(root *html.Node) []*html.Node {
	var out []*html.Node
	WalkElements(root, func(n *html.Node) bool {
		if s.Matches(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func matchPart(n *html.Node, p simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if p.tag != "" && n.Data != p.tag {
		return false
	}
	if p.id != "" && Attr(n, "id") != p.id {
		return false
	}
	if len(p.classes) > 0 {
		have := strings.Fields(Attr(n, "class"))
		for _, want := range p.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range p.attrs {
		if !HasAttr(n, a.key) {
			return false
		}
		if a.val != "" && Attr(n, a.key) != a.val {
			return false
		}
	}
	return true
}
