package dom

import (
	"regexp"

	"golang.org/x/net/html"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0[^1-9]`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(\s|;|$)`),
}

// IsHidden reports whether an element is invisible to the reader: the
// hidden attribute, aria-hidden, or an inline style that suppresses
// display. Hidden elements never qualify as scorable content.
func IsHidden(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if HasAttr(n, "hidden") {
		return true
	}
	if Attr(n, "aria-hidden") == "true" {
		return true
	}
	if style := Attr(n, "style"); style != "" {
		for _, pat := range hiddenStylePatterns {
			if pat.MatchString(style) {
				return true
			}
		}
	}
	return false
}
