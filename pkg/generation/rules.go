package generation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phenomenon0/parlay-agents/pkg/odds"
	"github.com/phenomenon0/parlay-agents/pkg/policy"
)

// Rule names, in evaluation order.
const (
	RuleStructural = "structural"
	RuleLegCount   = "leg_count"
	RuleConflicts  = "conflicts"
	RulePrice      = "price_policy"
	RuleConfidence = "confidence_policy"
)

// LegTolerance is how far the leg count may drift from the target.
const LegTolerance = 1

var strictOdds = regexp.MustCompile(`^[+-]\d{3,}$`)

// Verdict is the result of one rule.
type Verdict struct {
	Rule   string `json:"rule"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Check is what every rule inspects.
type Check struct {
	Output Output
	Target int
	Policy policy.Tier
}

// Rule evaluates one property of a model response.
type Rule struct {
	Name  string
	Check func(c Check) Verdict
}

// Rules returns the ordered rule list.
func Rules() []Rule {
	return []Rule{
		{RuleStructural, checkStructure},
		{RuleLegCount, checkLegCount},
		{RuleConflicts, checkConflicts},
		{RulePrice, checkPrice},
		{RuleConfidence, checkConfidence},
	}
}

// Evaluation aggregates the verdicts of one attempt.
type Evaluation struct {
	Verdicts []Verdict `json:"verdicts"`
	Accepted bool      `json:"accepted"`
	Feedback []string  `json:"feedback,omitempty"`
}

// Failed lists rules that did not pass.
func (e Evaluation) Failed() []string {
	var out []string
	for _, v := range e.Verdicts {
		if !v.Pass {
			out = append(out, v.Rule)
		}
	}
	return out
}

// Evaluate runs every rule once and decides acceptance. The shape gate passes
// when either the structural or the leg-count rule passes; every other rule
// must pass outright.
func Evaluate(c Check) Evaluation {
	var ev Evaluation
	byName := make(map[string]Verdict)
	for _, r := range Rules() {
		v := r.Check(c)
		v.Rule = r.Name
		ev.Verdicts = append(ev.Verdicts, v)
		byName[r.Name] = v
	}

	structural, count := byName[RuleStructural], byName[RuleLegCount]
	shapeOK := structural.Pass || count.Pass
	ev.Accepted = shapeOK

	if !shapeOK {
		ev.Feedback = append(ev.Feedback, structural.Reason, count.Reason)
	}
	for _, name := range []string{RuleConflicts, RulePrice, RuleConfidence} {
		v := byName[name]
		if !v.Pass {
			ev.Accepted = false
			ev.Feedback = append(ev.Feedback, v.Reason)
		}
	}
	return ev
}

func withinTolerance(n, target int) bool {
	d := n - target
	return d >= -LegTolerance && d <= LegTolerance
}

func checkStructure(c Check) Verdict {
	out := c.Output
	if out.Kind != Structured {
		reason := fmt.Sprintf("no machine-readable leg list between %s and %s", LegsStart, LegsEnd)
		if out.ParseErr != nil {
			reason = fmt.Sprintf("leg list between %s and %s could not be parsed: %v", LegsStart, LegsEnd, out.ParseErr)
		}
		return Verdict{Reason: reason}
	}

	var problems []string
	for i, leg := range out.Legs {
		var missing []string
		if leg.Date == "" {
			missing = append(missing, "date")
		}
		if leg.Event == "" {
			missing = append(missing, "game")
		}
		if leg.Bet == "" {
			missing = append(missing, "bet")
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("leg %d is missing %s", i+1, strings.Join(missing, ", ")))
		}
		if !strictOdds.MatchString(leg.Odds) {
			problems = append(problems, fmt.Sprintf("leg %d odds %q must look like +150 or -110", i+1, leg.Odds))
		}
		if leg.Confidence < 1 || leg.Confidence > 10 {
			problems = append(problems, fmt.Sprintf("leg %d confidence %d must be 1-10", i+1, leg.Confidence))
		}
	}
	if !withinTolerance(len(out.Legs), c.Target) {
		problems = append(problems, fmt.Sprintf("leg list has %d legs, expected %d (±%d)", len(out.Legs), c.Target, LegTolerance))
	}
	if len(problems) > 0 {
		return Verdict{Reason: strings.Join(problems, "; ")}
	}
	return Verdict{Pass: true}
}

func checkLegCount(c Check) Verdict {
	n := len(c.Output.Legs)
	source := "leg list"
	if c.Output.Kind != Structured {
		n = CountLegsHeuristic(c.Output.Text)
		source = "response text"
	}
	if withinTolerance(n, c.Target) {
		return Verdict{Pass: true}
	}
	return Verdict{Reason: fmt.Sprintf("%s has %d legs, expected %d (±%d)", source, n, c.Target, LegTolerance)}
}

func checkConflicts(c Check) Verdict {
	if c.Output.Kind != Structured {
		return Verdict{Pass: true, Reason: "skipped: no structured legs"}
	}
	conflicts := FindConflicts(c.Output.Legs)
	if len(conflicts) == 0 {
		return Verdict{Pass: true}
	}
	var reasons []string
	for _, cf := range conflicts {
		reasons = append(reasons, fmt.Sprintf("legs %d and %d conflict: %s", cf.First+1, cf.Second+1, cf.Reason))
	}
	return Verdict{Reason: strings.Join(reasons, "; ")}
}

func checkPrice(c Check) Verdict {
	if c.Policy.HeavyFavorite == 0 {
		return Verdict{Pass: true}
	}
	if c.Output.Kind != Structured {
		return Verdict{Pass: true, Reason: "skipped: no structured legs"}
	}
	var reasons []string
	for i, leg := range c.Output.Legs {
		price, ok := legPrice(leg.Odds)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("leg %d odds %q unreadable", i+1, leg.Odds))
			continue
		}
		if err := c.Policy.CheckPrice(price); err != nil {
			reasons = append(reasons, fmt.Sprintf("leg %d: %v", i+1, err))
		}
	}
	if len(reasons) > 0 {
		return Verdict{Reason: strings.Join(reasons, "; ")}
	}
	return Verdict{Pass: true}
}

func checkConfidence(c Check) Verdict {
	if len(c.Policy.Bands) == 0 {
		return Verdict{Pass: true}
	}
	if c.Output.Kind != Structured {
		return Verdict{Pass: true, Reason: "skipped: no structured legs"}
	}
	var reasons []string
	for i, leg := range c.Output.Legs {
		price, ok := legPrice(leg.Odds)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("leg %d odds %q unreadable", i+1, leg.Odds))
			continue
		}
		if err := c.Policy.CheckConfidence(price, leg.Confidence); err != nil {
			reasons = append(reasons, fmt.Sprintf("leg %d: %v", i+1, err))
		}
	}
	if len(reasons) > 0 {
		return Verdict{Reason: strings.Join(reasons, "; ")}
	}
	return Verdict{Pass: true}
}

// legPrice reads a leg price leniently so loosely formatted odds such as
// "350" or "EVEN" are still held to the tier policy. The structural rule
// reports the formatting separately.
func legPrice(s string) (int, bool) {
	v, err := odds.ParseAmerican(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
