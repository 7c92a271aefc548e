package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
)

// Conflict names two legs that cannot both be bet.
type Conflict struct {
	First  int
	Second int
	Reason string
}

type betKind int

const (
	betOther betKind = iota
	betTotal
	betSpread
	betMoneyline
)

type parsedBet struct {
	kind    betKind
	side    string // over/under, or the normalized team
	subject string // what an over/under applies to
	norm    string
}

var (
	overUnder   = regexp.MustCompile(`(?i)\b(over|under)\b`)
	shortOU     = regexp.MustCompile(`(?i)(?:^|\s)([ou])\s*(\d+(?:\.\d+)?)\b`)
	numberToken = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)
	moneyline   = regexp.MustCompile(`(?i)\b(ml|moneyline|money line|to win|straight up)\b`)
	spreadTail  = regexp.MustCompile(`^(.*?)\s*\(?([-+]\d+(?:\.\d+)?)\)?\s*$`)
	fillerWords = map[string]bool{
		"total": true, "points": true, "pts": true, "game": true, "o/u": true,
		"spread": true, "alt": true, "alternate": true, "line": true,
	}
)

func parseBet(bet string) parsedBet {
	b := strings.TrimSpace(bet)
	p := parsedBet{norm: catalog.NormalizeName(b)}

	if m := overUnder.FindStringSubmatch(b); m != nil {
		p.kind = betTotal
		p.side = strings.ToLower(m[1])
		p.subject = subjectOf(overUnder.ReplaceAllString(b, " "))
		return p
	}
	if m := shortOU.FindStringSubmatch(b); m != nil {
		p.kind = betTotal
		p.side = "over"
		if strings.EqualFold(m[1], "u") {
			p.side = "under"
		}
		p.subject = subjectOf(shortOU.ReplaceAllString(b, " "))
		return p
	}
	if moneyline.MatchString(b) {
		p.kind = betMoneyline
		p.side = sideOf(moneyline.ReplaceAllString(b, " "))
		return p
	}
	if m := spreadTail.FindStringSubmatch(stripFiller(b)); m != nil && strings.TrimSpace(m[1]) != "" {
		p.kind = betSpread
		p.side = sideOf(m[1])
		return p
	}
	return p
}

func stripFiller(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if !fillerWords[strings.ToLower(strings.Trim(w, "():"))] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func sideOf(s string) string {
	return catalog.NormalizeName(numberToken.ReplaceAllString(stripFiller(s), " "))
}

func subjectOf(s string) string {
	s = numberToken.ReplaceAllString(s, " ")
	return catalog.NormalizeName(stripFiller(catalog.NormalizeName(s)))
}

var matchupSplit = regexp.MustCompile(`(?i)\s+(?:@|vs\.?|v\.?|at)\s+`)

// eventKey canonicalizes an event reference so "A @ B" and "B vs A" agree.
func eventKey(event string) string {
	parts := matchupSplit.Split(strings.TrimSpace(event), -1)
	for i := range parts {
		parts[i] = catalog.NormalizeName(parts[i])
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// ConflictBetween reports why two legs cannot both be bet. Legs on different
// events never conflict.
func ConflictBetween(a, b core.Leg) (string, bool) {
	if eventKey(a.Event) != eventKey(b.Event) {
		return "", false
	}
	pa, pb := parseBet(a.Bet), parseBet(b.Bet)

	if pa.norm == pb.norm {
		return fmt.Sprintf("duplicate leg %q", a.Bet), true
	}

	switch {
	case pa.kind == betTotal && pb.kind == betTotal:
		if pa.side != pb.side && pa.subject == pb.subject {
			return fmt.Sprintf("%q and %q take both sides of the same total", a.Bet, b.Bet), true
		}
	case pa.kind == betSpread && pb.kind == betSpread:
		if !catalog.TeamMatches(pa.side, pb.side) {
			return fmt.Sprintf("%q and %q take opposite sides of the spread", a.Bet, b.Bet), true
		}
	case pa.kind == betMoneyline && pb.kind == betMoneyline:
		if !catalog.TeamMatches(pa.side, pb.side) {
			return fmt.Sprintf("%q and %q back opposing moneylines", a.Bet, b.Bet), true
		}
	case pa.kind == betMoneyline && pb.kind == betSpread, pa.kind == betSpread && pb.kind == betMoneyline:
		if catalog.TeamMatches(pa.side, pb.side) {
			return fmt.Sprintf("%q and %q stack moneyline and spread on the same side", a.Bet, b.Bet), true
		}
	}
	return "", false
}

// FindConflicts checks every pair of legs.
func FindConflicts(legs []core.Leg) []Conflict {
	var out []Conflict
	for i := 0; i < len(legs); i++ {
		for j := i + 1; j < len(legs); j++ {
			if reason, ok := ConflictBetween(legs[i], legs[j]); ok {
				out = append(out, Conflict{First: i, Second: j, Reason: reason})
			}
		}
	}
	return out
}
