// Package picks produces independent single-bet suggestions. Unlike a
// parlay, picks carry no combined price; each is graded on its own, and the
// set is kept free of contradictory pairs.
package picks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
	"github.com/phenomenon0/parlay-agents/pkg/odds"
	"github.com/phenomenon0/parlay-agents/pkg/research"
)

// ErrNoPicks means the model returned no usable pick list.
var ErrNoPicks = errors.New("no picks in model output")

const (
	DefaultCount = 5
	MaxCount     = 20
)

// Request asks for Count picks from the given events.
type Request struct {
	Events   []research.Enriched
	Count    int
	Sports   []string
	BetTypes []string
	Fast     bool
}

// Dropped is a pick removed during pruning.
type Dropped struct {
	Pick   core.Leg `json:"pick"`
	Reason string   `json:"reason"`
}

// Result is the pruned pick list.
type Result struct {
	Picks   []core.Leg
	Dropped []Dropped
	Model   string
	CostUSD float64
}

// Suggester asks the model for picks.
type Suggester struct {
	clients generation.ClientSet
	catalog *catalog.Catalog
	limits  generation.PromptLimits
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewSuggester creates a Suggester. A nil logger uses the standard logger.
func NewSuggester(clients generation.ClientSet, cat *catalog.Catalog, log logrus.FieldLogger) *Suggester {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Suggester{
		clients: clients,
		catalog: cat,
		limits:  generation.DefaultPromptLimits(),
		log:     log.WithField("component", "picks"),
		now:     time.Now,
	}
}

// Suggest makes one model call and prunes its answer.
func (s *Suggester) Suggest(ctx context.Context, req Request) (*Result, error) {
	n := clampCount(req.Count)
	client := s.clients.For(req.Fast)
	if client == nil {
		return nil, fmt.Errorf("no model client configured")
	}

	completion, err := client.Complete(ctx, s.prompt(req, n), systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("requesting picks: %w", err)
	}

	out := generation.ParseOutput(completion.Text)
	if out.Kind != generation.Structured {
		if out.ParseErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoPicks, out.ParseErr)
		}
		return nil, ErrNoPicks
	}

	kept, dropped := Prune(out.Legs, n)
	if len(dropped) > 0 {
		s.log.WithFields(logrus.Fields{"kept": len(kept), "dropped": len(dropped)}).Info("pruned picks")
	}
	if len(kept) == 0 {
		return nil, ErrNoPicks
	}
	return &Result{Picks: kept, Dropped: dropped, Model: completion.Model, CostUSD: completion.CostUSD}, nil
}

func clampCount(n int) int {
	switch {
	case n <= 0:
		return DefaultCount
	case n > MaxCount:
		return MaxCount
	}
	return n
}

// Prune drops malformed picks and every pick that conflicts with an earlier
// one, then caps the list at n.
func Prune(picks []core.Leg, n int) ([]core.Leg, []Dropped) {
	var kept []core.Leg
	var dropped []Dropped

	for _, p := range picks {
		if reason := malformed(p); reason != "" {
			dropped = append(dropped, Dropped{Pick: p, Reason: reason})
			continue
		}
		if reason, ok := conflictsWith(kept, p); ok {
			dropped = append(dropped, Dropped{Pick: p, Reason: reason})
			continue
		}
		if n > 0 && len(kept) >= n {
			dropped = append(dropped, Dropped{Pick: p, Reason: "over the requested count"})
			continue
		}
		kept = append(kept, p)
	}
	return kept, dropped
}

func malformed(p core.Leg) string {
	if strings.TrimSpace(p.Event) == "" || strings.TrimSpace(p.Bet) == "" {
		return "missing game or bet"
	}
	if _, err := odds.ParseAmerican(p.Odds); err != nil {
		return err.Error()
	}
	return ""
}

func conflictsWith(kept []core.Leg, p core.Leg) (string, bool) {
	for _, k := range kept {
		if reason, ok := generation.ConflictBetween(k, p); ok {
			return reason, true
		}
	}
	return "", false
}

const systemPrompt = `You are a disciplined sports betting analyst recommending individual bets.
Use only the games and prices provided. Never recommend both sides of the same market.
Output the picks as a JSON array between ` + generation.LegsStart + ` and ` + generation.LegsEnd + `.
Each element must have: "date" (YYYY-MM-DD), "game" ("Away @ Home"), "bet", "odds" (American), "confidence" (1-10) and "reasoning".`

func (s *Suggester) prompt(req Request, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d independent single bets", n)
	if len(req.Sports) > 0 {
		fmt.Fprintf(&b, " from %s", strings.Join(req.Sports, ", "))
	}
	b.WriteString(".\n")
	if len(req.BetTypes) > 0 {
		fmt.Fprintf(&b, "Allowed bet types: %s.\n", strings.Join(req.BetTypes, ", "))
	}
	fmt.Fprintf(&b, "Current time: %s\n", s.now().UTC().Format(time.RFC3339))
	b.WriteString("Each pick is graded on its own. Spread picks across games where possible and never contradict another pick.\n\n")
	b.WriteString(generation.RenderEvents(s.catalog, req.Events, s.limits))
	fmt.Fprintf(&b, "\nReturn exactly %d picks between %s and %s.\n", n, generation.LegsStart, generation.LegsEnd)
	return b.String()
}
