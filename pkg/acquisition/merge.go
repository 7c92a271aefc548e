package acquisition

import (
	"fmt"
	"time"

	"github.com/phenomenon0/parlay-agents/core"
)

// eventSet accumulates events in insertion order.
type eventSet struct {
	order []string
	byID  map[string]*core.Event
}

func newEventSet() *eventSet {
	return &eventSet{byID: make(map[string]*core.Event)}
}

func (s *eventSet) len() int { return len(s.order) }

func (s *eventSet) has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// addNew inserts a private copy of ev unless an event with the same id
// already exists. Returns whether it was inserted.
func (s *eventSet) addNew(ev core.Event) bool {
	id := ev.Key()
	if s.has(id) {
		return false
	}
	cp := ev.Clone()
	s.byID[id] = &cp
	s.order = append(s.order, id)
	return true
}

// mergeMarkets folds ev's bookmaker markets into the stored event, adding
// the event when absent. Existing (bookmaker, market) pairs are kept.
func (s *eventSet) mergeMarkets(ev core.Event) {
	id := ev.Key()
	cur, ok := s.byID[id]
	if !ok {
		s.addNew(ev)
		return
	}
	ev = ev.Clone()
	for _, bm := range ev.Bookmakers {
		idx := -1
		for i := range cur.Bookmakers {
			if cur.Bookmakers[i].Key == bm.Key {
				idx = i
				break
			}
		}
		if idx < 0 {
			cur.Bookmakers = append(cur.Bookmakers, bm)
			continue
		}
		have := make(map[string]bool)
		for _, m := range cur.Bookmakers[idx].Markets {
			have[m.Key] = true
		}
		for _, m := range bm.Markets {
			if !have[m.Key] {
				cur.Bookmakers[idx].Markets = append(cur.Bookmakers[idx].Markets, m)
			}
		}
		if bm.LastUpdate.After(cur.Bookmakers[idx].LastUpdate) {
			cur.Bookmakers[idx].LastUpdate = bm.LastUpdate
		}
	}
}

// events returns copies, so callers never write into the set.
func (s *eventSet) events() []core.Event {
	out := make([]core.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// withinWindow keeps events commencing in [from, to].
func withinWindow(events []core.Event, from, to time.Time) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.CommenceTime.Before(from) || ev.CommenceTime.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// countOptions counts distinct bettable selections across all bookmakers.
func countOptions(events []core.Event) int {
	seen := make(map[string]bool)
	for _, ev := range events {
		id := ev.Key()
		for _, bm := range ev.Bookmakers {
			for _, m := range bm.Markets {
				for _, o := range m.Outcomes {
					k := fmt.Sprintf("%s|%s|%s|%s", id, m.Key, o.Name, o.Description)
					if o.Point != nil {
						k += fmt.Sprintf("|%g", *o.Point)
					}
					seen[k] = true
				}
			}
		}
	}
	return len(seen)
}

// DataQuality returns the percentage of events with at least two populated markets.
func DataQuality(events []core.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	good := 0
	for _, ev := range events {
		if len(ev.MarketKeys()) >= 2 {
			good++
		}
	}
	return float64(good) / float64(len(events)) * 100
}
