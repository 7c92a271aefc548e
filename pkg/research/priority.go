package research

import (
	"sort"
	"time"

	"github.com/phenomenon0/parlay-agents/core"
)

// Priority scores an event for enrichment. Sooner kickoffs and deeper
// markets score higher.
func Priority(ev core.Event, now time.Time) float64 {
	return timeScore(ev.CommenceTime.Sub(now)) + marketScore(len(ev.MarketKeys()))
}

func timeScore(until time.Duration) float64 {
	switch {
	case until < 0:
		return 0
	case until <= 6*time.Hour:
		return 40
	case until <= 24*time.Hour:
		return 30
	case until <= 48*time.Hour:
		return 20
	case until <= 96*time.Hour:
		return 10
	default:
		return 5
	}
}

func marketScore(n int) float64 {
	if n > 10 {
		n = 10
	}
	return float64(n) * 2
}

type ranked struct {
	index    int
	priority float64
}

// rank orders event indexes by descending priority; ties keep input order.
func rank(events []core.Event, now time.Time) []ranked {
	out := make([]ranked, len(events))
	for i, ev := range events {
		out[i] = ranked{index: i, priority: Priority(ev, now)}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].priority > out[b].priority
	})
	return out
}
