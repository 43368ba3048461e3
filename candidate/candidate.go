// Package candidate walks a document tree and yields the text blocks worth
// scoring, deduplicated by content key.
//
// Selection runs in two passes. Pass 1 matches curated, site-specific
// selectors known to point directly at reply/comment/post bodies; those
// matches are trusted and use a lower length floor. Pass 2 is a generic
// walk over everything else, filtered by tag, ARIA role, visibility, and
// UI-chrome naming heuristics, with the dominance rule keeping wrapper
// containers from being scored instead of their leaves.
package candidate

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/slopshield/dom"
	"github.com/hazyhaar/slopshield/textnorm"
)

// Block is a scorable text region. Element is a non-owning back-reference
// into the live document; the block is transient and discarded once
// scoring completes.
type Block struct {
	Key     string
	Text    string
	Element *html.Node
	Trusted bool
}

// TextBlock builds a Block directly from raw text, with no backing
// element. Used by the diagnostic surfaces that score standalone text.
func TextBlock(text string) Block {
	norm := textnorm.Normalize(text)
	return Block{Key: textnorm.Key(norm), Text: norm}
}

// Options configures a Selector.
type Options struct {
	// MinTextLength is the generic-walk floor. Default: 50.
	MinTextLength int
	// Profiles overrides the embedded site table.
	Profiles *Profiles
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

// Selector produces candidate blocks from documents and subtrees.
// SetMinTextLength may be called concurrently with scans — configuration
// updates are picked up without restart.
type Selector struct {
	profiles *Profiles
	logger   *slog.Logger

	mu     sync.RWMutex
	minLen int
}

// New creates a Selector.
func New(opts Options) *Selector {
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = 50
	}
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Selector{
		profiles: opts.Profiles,
		logger:   opts.Logger,
		minLen:   opts.MinTextLength,
	}
}

// MinTextLength returns the current generic-walk floor.
func (s *Selector) MinTextLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minLen
}

// SetMinTextLength updates the generic-walk floor.
func (s *Selector) SetMinTextLength(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.minLen = n
	s.mu.Unlock()
}

// Profile returns the site profile for the document's host, or nil.
func (s *Selector) Profile(doc *dom.Document) *Profile {
	return s.profiles.For(doc.Host())
}

// SelectDocument runs both passes over the whole document.
func (s *Selector) SelectDocument(doc *dom.Document) []Block {
	return s.selectFrom(doc, doc.Root())
}

// SelectElement runs both passes over a single subtree — the incremental
// path used by the mutation monitor for newly-inserted nodes.
func (s *Selector) SelectElement(doc *dom.Document, n *html.Node) []Block {
	return s.selectFrom(doc, n)
}

func (s *Selector) selectFrom(doc *dom.Document, root *html.Node) []Block {
	seen := make(map[string]struct{})
	var blocks []Block

	add := func(el *html.Node, text string, trusted bool) {
		norm := textnorm.Normalize(text)
		key := textnorm.Key(norm)
		if _, dup := seen[key]; dup {
			return // first-seen wins
		}
		seen[key] = struct{}{}
		blocks = append(blocks, Block{Key: key, Text: norm, Element: el, Trusted: trusted})
	}

	prof := s.profiles.For(doc.Host())
	if prof != nil {
		s.trustedPass(prof, root, add)
	}

	if prof == nil || !prof.DisableGenericWalk {
		s.genericPass(root, add)
	}

	return blocks
}

// trustedPass matches the profile's curated selectors. Each selector is
// compiled independently; a malformed one is skipped, never fatal.
func (s *Selector) trustedPass(prof *Profile, root *html.Node, add func(*html.Node, string, bool)) {
	excluded, errs := dom.ParseSelectors(prof.ExcludedSelectors)
	for _, err := range errs {
		s.logger.Debug("candidate: excluded selector skipped", "error", err)
	}

	for _, raw := range prof.TrustedSelectors {
		sel, err := dom.ParseSelector(raw)
		if err != nil {
			s.logger.Debug("candidate: trusted selector skipped", "error", err)
			continue
		}
		for _, n := range sel.MatchAll(root) {
			text := strings.TrimSpace(dom.TextExcluding(n, excluded))
			if len(text) < prof.MinTextLength {
				continue
			}
			add(n, text, true)
		}
	}
}

// genericPass walks the subtree accepting leaf text blocks.
func (s *Selector) genericPass(root *html.Node, add func(*html.Node, string, bool)) {
	minLen := s.MinTextLength()

	dom.WalkElements(root, func(n *html.Node) bool {
		if excludedTag(n.DataAtom) || excludedRole(dom.Attr(n, "role")) ||
			dom.IsHidden(n) || chromeLike(n) {
			return false // prune the whole subtree
		}
		text := strings.TrimSpace(dom.Text(n))
		if len(text) < minLen {
			return true // too short itself, but children may still combine
		}
		if isLeafBlock(n, text) {
			add(n, text, false)
			return false
		}
		return true
	})
}

// isLeafBlock applies the dominance rule: a container qualifies only when
// no single direct child carries the dominant share of its text, and no
// direct block-level child independently carries substantial text —
// otherwise the real content lives one level deeper and scoring the
// wrapper would double-count it.
func isLeafBlock(n *html.Node, text string) bool {
	const (
		dominantShare = 0.7
		blockChildMax = 100
	)
	total := len(text)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		childText := strings.TrimSpace(dom.Text(c))
		if len(childText) >= int(dominantShare*float64(total)) {
			return false
		}
		if blockTag(c.DataAtom) && len(childText) > blockChildMax {
			return false
		}
	}
	return true
}

func excludedTag(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template,
		atom.Form, atom.Input, atom.Textarea, atom.Select, atom.Button,
		atom.Label, atom.Option,
		atom.Nav, atom.Header, atom.Footer, atom.Aside, atom.Menu,
		atom.Iframe, atom.Svg, atom.Canvas, atom.Video, atom.Audio,
		atom.Img, atom.Picture, atom.Source,
		atom.Head, atom.Title, atom.Meta, atom.Link, atom.Base:
		return true
	}
	return false
}

func excludedRole(role string) bool {
	switch role {
	case "navigation", "menu", "menubar", "toolbar", "tablist", "tab",
		"banner", "contentinfo", "complementary", "search", "dialog",
		"alertdialog", "progressbar", "slider":
		return true
	}
	return false
}

// chromePatterns flag class/id names suggestive of UI chrome rather than
// content. "comment" is deliberately absent — comments are the content here.
var chromePatterns = []string{
	"sidebar", "footer", "header", "navbar", "nav-", "menu", "breadcrumb",
	"cookie", "banner", "advert", "promo", "sponsor", "toolbar", "tooltip",
	"dropdown", "popup", "modal", "widget", "pagination", "vote", "upvote",
	"share-", "social-",
}

func chromeLike(n *html.Node) bool {
	for _, key := range [2]string{"class", "id"} {
		v := dom.Attr(n, key)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		for _, pat := range chromePatterns {
			if strings.Contains(lower, pat) {
				return true
			}
		}
	}
	return false
}

func blockTag(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.Section, atom.Article, atom.P, atom.Blockquote,
		atom.Ul, atom.Ol, atom.Li, atom.Dl, atom.Table, atom.Tbody,
		atom.Tr, atom.Td, atom.Pre:
		return true
	}
	return false
}
