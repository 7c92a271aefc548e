// Package postprocess rewrites model text into the user-facing parlay: it
// recomputes every combined-odds and payout line, removes the structured leg
// block, rebuilds the lock section and appends the market expansion notice.
package postprocess

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
	"github.com/phenomenon0/parlay-agents/pkg/odds"
)

// LockHeading titles the rebuilt lock section.
const LockHeading = "### Lock Parlay"

// Options control one pass.
type Options struct {
	// Legs is the structured leg list, the source for the lock section.
	Legs []core.Leg
	// LockSection enables the rebuilt lock section.
	LockSection bool
	// ExpandedBetTypes names the bet types added by market expansion.
	ExpandedBetTypes []string
}

// Correction is one overwritten combined-odds or payout value.
type Correction struct {
	Line int    `json:"line"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// Result is the processed text.
type Result struct {
	Text        string
	Corrections []Correction
	LockLegs    []core.Leg
	Disclosed   bool
}

// Processor applies the post-processing steps.
type Processor struct {
	log logrus.FieldLogger
}

// New creates a Processor. A nil logger uses the standard logger.
func New(log logrus.FieldLogger) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{log: log.WithField("component", "postprocess")}
}

// Process runs every step in order.
func (p *Processor) Process(text string, opts Options) Result {
	var res Result

	text = generation.StripStructured(text)
	text, removed := RemoveLockSections(text)
	if removed > 0 {
		p.log.WithField("sections", removed).Debug("removed model lock sections")
	}

	text, res.Corrections = CorrectOdds(text)
	for _, c := range res.Corrections {
		if c.Old != c.New {
			p.log.WithFields(logrus.Fields{"line": c.Line, "model": c.Old, "computed": c.New}).
				Info("corrected model odds")
		}
	}

	if opts.LockSection {
		section, legs, err := BuildLockSection(opts.Legs)
		switch {
		case err != nil:
			p.log.WithError(err).Warn("lock section skipped")
		case section != "":
			text = strings.TrimRight(text, "\n") + "\n\n" + section
			res.LockLegs = legs
		}
	}

	if notice := ExpansionNotice(opts.ExpandedBetTypes); notice != "" {
		text = strings.TrimRight(text, "\n") + "\n\n" + notice
		res.Disclosed = true
	}

	res.Text = strings.TrimSpace(text)
	return res
}

var (
	headingLine  = regexp.MustCompile(`^\s*(?:#{1,6}\s+\S.*|\*\*[^*]+\*\*:?\s*|__[^_]+__:?\s*)$`)
	lockWord     = regexp.MustCompile(`(?i)\block\b`)
	combinedLine = regexp.MustCompile(`(?i)(\b(?:combined|parlay|total)\s+(?:parlay\s+)?odds\W*?)([+-]?\d[\d,]*(?:\.\d+)?)`)
	combinedTail = regexp.MustCompile(`(?i)(\b(?:combined|parlay|total)\s+(?:parlay\s+)?odds\W*)(.*)$`)
	payoutLabel  = regexp.MustCompile(`(?i)\bpayout\b`)
	dollarAmount = regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?`)
	stakePrefix  = regexp.MustCompile(`(?i)\b(?:on|per|an?|(?:stake|bet|wager)(?:\s+of)?|risking)\s*$`)
	stakeSuffix  = regexp.MustCompile(`(?i)^\s*(?:bet|stake|wager)\b`)
	legLine      = regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+|\d+[.)]\s+|\**\s*leg\s*#?\s*\d+)`)
	priceToken   = regexp.MustCompile(`(?:^|[\s(\[:])([+-]\d{3,})\b`)
)

func isHeading(line string) bool {
	return headingLine.MatchString(line) && !legLine.MatchString(line)
}

// RemoveLockSections drops every section whose heading mentions a lock. A
// section runs until the next heading.
func RemoveLockSections(text string) (string, int) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	removed := 0
	skipping := false
	for _, line := range lines {
		if isHeading(line) {
			skipping = lockWord.MatchString(line)
			if skipping {
				removed++
				continue
			}
		}
		if !skipping {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n")), removed
}

// CorrectOdds recomputes every combined-odds and payout line from the leg
// prices of its block. Blocks are separated by headings. The model's values
// are overwritten whether or not they were right.
func CorrectOdds(text string) (string, []Correction) {
	lines := strings.Split(text, "\n")
	var corrections []Correction

	start := 0
	for i := 0; i <= len(lines); i++ {
		if i < len(lines) && (i == start || !isHeading(lines[i])) {
			continue
		}
		corrections = append(corrections, correctBlock(lines, start, i)...)
		start = i
	}
	return strings.Join(lines, "\n"), corrections
}

func correctBlock(lines []string, from, to int) []Correction {
	var prices []string
	for _, line := range lines[from:to] {
		if combinedTail.MatchString(line) || payoutLabel.MatchString(line) || !legLine.MatchString(line) {
			continue
		}
		if p := lastPrice(line); p != "" {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return nil
	}
	combo, err := odds.CombineLegs(prices)
	if err != nil {
		return nil
	}

	var out []Correction
	for i := from; i < to; i++ {
		line := lines[i]
		if combinedTail.MatchString(line) {
			line, out = rewriteCombined(line, i, combo.American, out)
		}
		if payoutLabel.MatchString(line) {
			line, out = rewritePayout(line, i, combo.PayoutString(), out)
		}
		lines[i] = line
	}
	return out
}

func lastPrice(line string) string {
	m := priceToken.FindAllStringSubmatch(line, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}

func rewriteCombined(line string, n int, value string, out []Correction) (string, []Correction) {
	if loc := combinedLine.FindStringSubmatchIndex(line); loc != nil {
		old := line[loc[4]:loc[5]]
		return line[:loc[4]] + value + line[loc[5]:], append(out, Correction{Line: n + 1, Old: old, New: value})
	}
	loc := combinedTail.FindStringSubmatchIndex(line)
	old := strings.TrimSpace(line[loc[4]:loc[5]])
	return line[:loc[4]] + value, append(out, Correction{Line: n + 1, Old: old, New: value})
}

// rewritePayout replaces the last dollar amount on a payout line that is not
// the stake. Stake amounts ("on $100", "a $100 bet") may sit on either side
// of the payout and are never touched.
func rewritePayout(line string, n int, value string, out []Correction) (string, []Correction) {
	var target []int
	for _, loc := range dollarAmount.FindAllStringIndex(line, -1) {
		if isStake(line, loc) {
			continue
		}
		target = loc
	}
	if target == nil {
		return line, out
	}
	old := line[target[0]:target[1]]
	return line[:target[0]] + value + line[target[1]:], append(out, Correction{Line: n + 1, Old: old, New: value})
}

func isStake(line string, loc []int) bool {
	return stakePrefix.MatchString(line[:loc[0]]) || stakeSuffix.MatchString(line[loc[1]:])
}

// TopLegs returns the two highest-confidence legs. Ties keep their original
// order.
func TopLegs(legs []core.Leg) []core.Leg {
	ranked := make([]core.Leg, len(legs))
	copy(ranked, legs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	return ranked
}

// BuildLockSection renders the lock parlay from the two highest-confidence
// legs. Fewer than two legs give an empty section.
func BuildLockSection(legs []core.Leg) (string, []core.Leg, error) {
	if len(legs) < 2 {
		return "", nil, nil
	}
	top := TopLegs(legs)
	combo, err := odds.CombineLegs([]string{top[0].Odds, top[1].Odds})
	if err != nil {
		return "", nil, fmt.Errorf("pricing lock legs: %w", err)
	}

	var b strings.Builder
	b.WriteString(LockHeading + "\n")
	b.WriteString("The two highest-confidence legs from above, paired.\n")
	for i, l := range top {
		fmt.Fprintf(&b, "Leg %d: %s (%s) - %s | confidence %d/10\n", i+1, l.Bet, l.Odds, l.Event, l.Confidence)
	}
	fmt.Fprintf(&b, "**Combined Odds:** %s\n", combo.American)
	fmt.Fprintf(&b, "**Payout on $100:** %s", combo.PayoutString())
	return b.String(), top, nil
}

// ExpansionNotice discloses that markets were widened beyond the requested
// bet types. No expansion gives an empty notice.
func ExpansionNotice(betTypes []string) string {
	if len(betTypes) == 0 {
		return ""
	}
	return "---\n**Market expansion:** no markets matched your selected bet types, so this parlay also draws from " +
		strings.Join(betTypes, ", ") + ". " +
		"Conflict rules still apply: legs never take both sides of a total or spread, never pair a moneyline with a spread on the same team, and never repeat."
}
