package score

import (
	"strings"
	"testing"

	"github.com/hazyhaar/slopshield/textnorm"
)

func testScorer() *Scorer {
	return New(nil, DefaultWeights())
}

func TestBelowMinimalFloor(t *testing.T) {
	s := testScorer()
	for _, txt := range []string{"", "thx", "ok cool", "lol"} {
		if got := s.Score(txt); got != 1 {
			t.Errorf("Score(%q): got %d, want 1", txt, got)
		}
	}
}

func TestShortBranchSycophanticReply(t *testing.T) {
	s := testScorer()
	text := textnorm.Normalize("Great point! Thanks for sharing this — I totally agree")
	got := s.Score(text)
	if got != 6 && got != 8 {
		t.Errorf("Score(%q): got %d, want 6 or 8", text, got)
	}
}

func TestShortBranchNeutralReply(t *testing.T) {
	s := testScorer()
	text := textnorm.Normalize("saw them live in 2019, the drummer broke a stick mid set")
	if got := s.Score(text); got != 1 {
		t.Errorf("neutral short reply: got %d, want 1", got)
	}
}

func TestShortBranchEmDashOnly(t *testing.T) {
	s := testScorer()
	// Three em-dashes, no phrase matches: density 1.0 via the em-dash path.
	text := "one thing — another thing — and yet — more of it"
	if got := s.Score(text); got != 8 {
		t.Errorf("em-dash heavy short text: got %d, want 8", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := testScorer()
	text := textnorm.Normalize(strings.Repeat(
		"It is worth noting that the landscape continues to evolve. ", 5))
	a := s.Score(text)
	b := s.Score(text)
	if a != b {
		t.Errorf("Score not deterministic: %d != %d", a, b)
	}
}

func TestScoreRange(t *testing.T) {
	s := testScorer()
	texts := []string{
		"the quick brown fox jumps over the lazy dog and keeps on running through the field until sunset falls over everything",
		strings.Repeat("furthermore it is worth noting that robust seamless solutions unlock the full potential. ", 4),
		strings.Repeat("a ", 200),
	}
	for _, txt := range texts {
		got := s.Score(textnorm.Normalize(txt))
		if got < 1 || got > 10 {
			t.Errorf("Score(%q...) = %d, out of [1,10]", txt[:40], got)
		}
	}
}

func TestFullBranchMonotoneInPhraseMatches(t *testing.T) {
	s := testScorer()
	base := "we drove out past the quarry and watched the fog settle into the valley for an hour or so. " +
		"someone brought coffee and we argued about baseball until the sun finally showed up over the ridge. "
	prev := s.Score(textnorm.Normalize(base))
	grown := base
	for _, add := range []string{
		"furthermore, it is worth noting that the view was robust. ",
		"moreover, the experience was a testament to seamless planning. ",
		"ultimately, i totally agree it was a game-changer. ",
	} {
		grown += add
		cur := s.Score(textnorm.Normalize(grown))
		if cur < prev {
			t.Errorf("score decreased after adding phrase matches: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestFullBranchAISlopScoresHigh(t *testing.T) {
	s := testScorer()
	slop := textnorm.Normalize(`Great question! It is worth noting that navigating the modern landscape
		requires a robust approach. Furthermore, seamless integration is a testament to careful planning.
		Moreover, leveraging cutting-edge tooling can unlock new value. Ultimately, whether you are a
		beginner or an expert, the key is to delve into the rich tapestry of options. I hope this helps!`)
	human := textnorm.Normalize(`honestly the gig was a mess lol. doors said 7 but we stood outside till
		almost 9 freezing. opener got booed off. then the PA died twice?? somehow still the best night
		out this year, you kinda had to be there. my ears are still ringing and i regret nothing.`)
	sSlop, sHuman := s.Score(slop), s.Score(human)
	if sSlop <= sHuman {
		t.Errorf("slop scored %d, human scored %d; want slop higher", sSlop, sHuman)
	}
	if sSlop < 6 {
		t.Errorf("dense slop scored only %d, want >= 6", sSlop)
	}
	if sHuman > 4 {
		t.Errorf("human anecdote scored %d, want <= 4", sHuman)
	}
}

func TestEmDashDensity(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"no dashes here", 0},
		{"one — dash", 1.0 / 3},
		{"a — b — c — d", 1},
		{"a — b — c — d — e — f", 1},
	}
	for _, tc := range cases {
		if got := EmDashDensity(tc.in); got != tc.want {
			t.Errorf("EmDashDensity(%q): got %f, want %f", tc.in, got, tc.want)
		}
	}
}
