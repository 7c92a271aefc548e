// Package filter projects acquired odds onto the bet types a caller selected.
package filter

import (
	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
)

// Result is the outcome of a filter pass.
type Result struct {
	Events []core.Event
	// Unfiltered is set when no event matched and the input was returned as is.
	Unfiltered bool
	Markets    int
}

// ByBetTypes expands labels through the catalog and keeps only matching
// markets. extra adds keys outside the selection, such as widened markets.
func ByBetTypes(cat *catalog.Catalog, events []core.Event, labels []string, extra ...string) Result {
	keys := cat.MarketKeys(labels)
	keys = append(keys, extra...)
	return ByKeys(events, keys)
}

// ByKeys keeps markets whose key is in keys and prunes empty bookmakers and
// events. A non-empty input never produces an empty output: when nothing
// matches, the input is returned unchanged.
func ByKeys(events []core.Event, keys []string) Result {
	if len(events) == 0 {
		return Result{}
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}

	var out []core.Event
	markets := 0
	for _, ev := range events {
		var books []core.BookmakerQuote
		for _, bm := range ev.Bookmakers {
			var kept []core.Market
			for _, m := range bm.Markets {
				if allowed[m.Key] && len(m.Outcomes) > 0 {
					kept = append(kept, m)
				}
			}
			if len(kept) == 0 {
				continue
			}
			bm.Markets = kept
			books = append(books, bm)
			markets += len(kept)
		}
		if len(books) == 0 {
			continue
		}
		ev.Bookmakers = books
		out = append(out, ev)
	}

	if len(out) == 0 {
		return Result{Events: events, Unfiltered: true, Markets: countMarkets(events)}
	}
	return Result{Events: out, Markets: markets}
}

func countMarkets(events []core.Event) int {
	n := 0
	for _, ev := range events {
		for _, bm := range ev.Bookmakers {
			n += len(bm.Markets)
		}
	}
	return n
}
