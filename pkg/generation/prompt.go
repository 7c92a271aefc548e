package generation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/odds"
	"github.com/phenomenon0/parlay-agents/pkg/policy"
	"github.com/phenomenon0/parlay-agents/pkg/research"
)

// PromptLimits bound the size of a prompt.
type PromptLimits struct {
	MaxEvents          int
	MaxMarketsPerEvent int
	MaxOutcomes        int
	MaxResearchChars   int
	MaxPlayerChars     int
}

// DefaultPromptLimits returns the production limits.
func DefaultPromptLimits() PromptLimits {
	return PromptLimits{
		MaxEvents:          30,
		MaxMarketsPerEvent: 8,
		MaxOutcomes:        12,
		MaxResearchChars:   600,
		MaxPlayerChars:     200,
	}
}

// PromptInput is everything a prompt is built from.
type PromptInput struct {
	Events   []research.Enriched
	Legs     int
	Policy   policy.Tier
	Sports   []string
	BetTypes []string
	Feedback []string
	Now      time.Time
}

// SystemPrompt frames the model's role and output contract.
const SystemPrompt = `You are a disciplined sports betting analyst. You build parlays only from the odds you are given.
Never invent games, lines or prices. Never combine legs that contradict each other.
Do not compute combined odds or payouts yourself; they are recalculated afterwards.

After your write-up, output the legs as a JSON array between the markers ` + LegsStart + ` and ` + LegsEnd + `.
Each element must have: "date" (YYYY-MM-DD), "game" ("Away @ Home"), "bet", "odds" (American, like "-110" or "+150"),
"confidence" (integer 1-10) and "reasoning".`

// BuildPrompt renders the user prompt for one attempt.
func BuildPrompt(cat *catalog.Catalog, in PromptInput, limits PromptLimits) string {
	var b strings.Builder
	p := in.Policy

	fmt.Fprintf(&b, "Build a %d-leg %s parlay", in.Legs, p.Name)
	if len(in.Sports) > 0 {
		fmt.Fprintf(&b, " from %s", strings.Join(in.Sports, ", "))
	}
	b.WriteString(".\n")
	if len(in.BetTypes) > 0 {
		fmt.Fprintf(&b, "Allowed bet types: %s.\n", strings.Join(in.BetTypes, ", "))
	}
	fmt.Fprintf(&b, "Current time: %s\n\n", in.Now.UTC().Format(time.RFC3339))

	writePolicy(&b, p, in.Legs)
	writeEvents(&b, cat, in.Events, limits)

	b.WriteString("\nFormat: a short heading, then each leg as \"Leg N: <bet> (<odds>) - <game>\" with one or two sentences of reasoning and a confidence score. ")
	b.WriteString("Include a \"Combined Odds\" line and a \"Payout on $100\" line. ")
	fmt.Fprintf(&b, "End with the JSON leg list between %s and %s.\n", LegsStart, LegsEnd)

	if len(in.Feedback) > 0 {
		b.WriteString("\nYOUR PREVIOUS ATTEMPT WAS REJECTED. Fix every problem below:\n")
		for _, f := range in.Feedback {
			if f == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func writePolicy(b *strings.Builder, p policy.Tier, legs int) {
	b.WriteString("RISK POLICY\n")
	fmt.Fprintf(b, "- Exactly %d legs.\n", legs)
	fmt.Fprintf(b, "- Target combined odds between %s and %s.\n",
		odds.FormatAmerican(p.TargetMin), odds.FormatAmerican(p.TargetMax))
	fmt.Fprintf(b, "- Prefer individual legs priced between %s and %s.\n",
		odds.FormatAmerican(p.LegShortest), odds.FormatAmerican(p.LegLongest))
	if p.HeavyFavorite != 0 {
		fmt.Fprintf(b, "- Every leg must be priced at %s or shorter.\n", odds.FormatAmerican(p.HeavyFavorite))
	}
	for _, band := range p.Bands {
		fmt.Fprintf(b, "- Legs priced %s: confidence %d-%d.\n",
			bandLabel(band), band.MinConfidence, band.MaxConfidence)
	}
	b.WriteString("- No two legs from the same game may contradict each other (both sides of a total, both sides of a spread, moneyline plus spread on one team, or duplicates).\n\n")
}

func bandLabel(band policy.ConfidenceBand) string {
	if band.Shortest < -10000 {
		return odds.FormatAmerican(band.Longest) + " or shorter"
	}
	return odds.FormatAmerican(band.Shortest) + " to " + odds.FormatAmerican(band.Longest)
}

// RenderEvents renders the bounded game listing shared by every prompt.
func RenderEvents(cat *catalog.Catalog, events []research.Enriched, limits PromptLimits) string {
	var b strings.Builder
	writeEvents(&b, cat, events, limits)
	return b.String()
}

func writeEvents(b *strings.Builder, cat *catalog.Catalog, events []research.Enriched, limits PromptLimits) {
	n := len(events)
	if limits.MaxEvents > 0 && n > limits.MaxEvents {
		n = limits.MaxEvents
	}
	fmt.Fprintf(b, "AVAILABLE GAMES (%d)\n", n)

	for i := 0; i < n; i++ {
		en := events[i]
		ev := en.Event
		fmt.Fprintf(b, "\n[%d] %s | %s | %s\n", i+1, ev.Matchup(), cat.SportName(ev.Sport),
			ev.CommenceTime.UTC().Format("2006-01-02 15:04 MST"))

		for _, line := range marketLines(cat, ev, limits) {
			fmt.Fprintf(b, "  %s\n", line)
		}

		if en.Research != nil && en.Research.Summary != "" {
			fmt.Fprintf(b, "  Notes: %s\n", oneLine(clip(en.Research.Summary, limits.MaxResearchChars)))
			players := make([]string, 0, len(en.Research.Players))
			for name := range en.Research.Players {
				players = append(players, name)
			}
			sort.Strings(players)
			for _, name := range players {
				fmt.Fprintf(b, "  %s: %s\n", name, oneLine(clip(en.Research.Players[name], limits.MaxPlayerChars)))
			}
		}
	}
}

// marketLines renders each market once, from the first bookmaker quoting it.
func marketLines(cat *catalog.Catalog, ev core.Event, limits PromptLimits) []string {
	seen := make(map[string]bool)
	var lines []string
	for _, bm := range ev.Bookmakers {
		for _, m := range bm.Markets {
			if seen[m.Key] || len(m.Outcomes) == 0 {
				continue
			}
			if limits.MaxMarketsPerEvent > 0 && len(lines) >= limits.MaxMarketsPerEvent {
				return lines
			}
			seen[m.Key] = true

			var parts []string
			for j, o := range m.Outcomes {
				if limits.MaxOutcomes > 0 && j >= limits.MaxOutcomes {
					break
				}
				parts = append(parts, formatOutcome(o))
			}
			lines = append(lines, fmt.Sprintf("%s [%s]: %s", cat.LabelFor(m.Key), m.Key, strings.Join(parts, ", ")))
		}
	}
	return lines
}

func formatOutcome(o core.Outcome) string {
	var b strings.Builder
	if o.Description != "" {
		b.WriteString(o.Description)
		b.WriteString(" ")
	}
	b.WriteString(o.Name)
	if o.Point != nil {
		if o.Name == "Over" || o.Name == "Under" {
			fmt.Fprintf(&b, " %g", *o.Point)
		} else {
			fmt.Fprintf(&b, " %+g", *o.Point)
		}
	}
	fmt.Fprintf(&b, " (%s)", odds.FormatAmerican(o.Price))
	return b.String()
}

func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
