package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/oddsapi"
)

// fetchLive queries the provider for one bookmaker across sports. Bulk and
// per-event markets are fetched concurrently; failures are logged and skipped.
func (a *Acquirer) fetchLive(ctx context.Context, sports []string, bookmaker string, keys []string, from, to time.Time) []core.Event {
	var (
		mu  sync.Mutex
		set = newEventSet()
	)
	merge := func(evs ...core.Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range evs {
			set.mergeMarkets(ev)
		}
	}

	var g errgroup.Group
	for _, sport := range sports {
		sport := sport
		bulk, perEvent := catalog.SplitBulk(a.catalog.SupportedKeys(sport, keys))

		if len(bulk) > 0 {
			g.Go(func() error {
				events, err := a.source.GetOdds(ctx, oddsapi.OddsQuery{
					Sport:      sport,
					Markets:    bulk,
					Bookmakers: []string{bookmaker},
					From:       from,
					To:         to,
				})
				if err != nil {
					a.providerError(&ProviderFetchError{Op: "odds", Sport: sport, Bookmaker: bookmaker, Err: err})
					return nil
				}
				merge(events...)
				return nil
			})
		}

		if len(perEvent) > 0 {
			g.Go(func() error {
				summaries, err := a.source.ListEvents(ctx, sport, from, to)
				if err != nil {
					a.providerError(&ProviderFetchError{Op: "events", Sport: sport, Bookmaker: bookmaker, Err: err})
					return nil
				}
				targets := make([]core.Event, 0, len(summaries))
				for _, s := range summaries {
					targets = append(targets, core.Event{
						ID:           s.ID,
						Sport:        sport,
						CommenceTime: s.CommenceTime,
						HomeTeam:     s.HomeTeam,
						AwayTeam:     s.AwayTeam,
					})
				}
				merge(a.fetchEventMarkets(ctx, targets, bookmaker, perEvent)...)
				return nil
			})
		}
	}
	_ = g.Wait()

	return withinWindow(set.events(), from, to)
}

// fetchEventMarkets runs per-event queries over a bounded worker pool. Events
// that returned no markets are omitted.
func (a *Acquirer) fetchEventMarkets(ctx context.Context, targets []core.Event, bookmaker string, keys []string) []core.Event {
	results := make([]*core.Event, len(targets))

	var g errgroup.Group
	g.SetLimit(a.cfg.PropWorkers)
	for i, target := range targets {
		i, target := i, target
		supported := a.catalog.SupportedKeys(target.Sport, keys)
		if len(supported) == 0 || target.ID == "" {
			continue
		}
		g.Go(func() error {
			ev, err := a.source.GetEventOdds(ctx, target.Sport, target.ID, supported, []string{bookmaker})
			if err != nil {
				a.providerError(&ProviderFetchError{Op: "event-odds", Sport: target.Sport, Bookmaker: bookmaker, Err: err})
				return nil
			}
			if ev.Sport == "" {
				ev.Sport = target.Sport
			}
			if ev.HomeTeam == "" {
				ev.HomeTeam, ev.AwayTeam = target.HomeTeam, target.AwayTeam
			}
			if ev.CommenceTime.IsZero() {
				ev.CommenceTime = target.CommenceTime
			}
			a.filterProps(ctx, ev)
			if len(ev.MarketKeys()) > 0 {
				results[i] = ev
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []core.Event
	for _, ev := range results {
		if ev != nil {
			out = append(out, *ev)
		}
	}
	return out
}

// filterProps drops player outcomes whose roster team is neither side of the
// event. Players missing from the roster are kept.
func (a *Acquirer) filterProps(ctx context.Context, ev *core.Event) {
	if a.roster == nil {
		return
	}
	verdicts := make(map[string]bool)
	dropped := 0

	for bi := range ev.Bookmakers {
		bm := &ev.Bookmakers[bi]
		markets := bm.Markets[:0]
		for _, m := range bm.Markets {
			if !catalog.IsPlayerProp(m.Key) {
				markets = append(markets, m)
				continue
			}
			outcomes := m.Outcomes[:0]
			for _, o := range m.Outcomes {
				player := o.Description
				if player == "" {
					outcomes = append(outcomes, o)
					continue
				}
				keep, ok := verdicts[player]
				if !ok {
					keep = a.playerBelongs(ctx, ev, player)
					verdicts[player] = keep
				}
				if keep {
					outcomes = append(outcomes, o)
				} else {
					dropped++
				}
			}
			if len(outcomes) > 0 {
				m.Outcomes = outcomes
				markets = append(markets, m)
			}
		}
		bm.Markets = markets
	}

	if dropped > 0 {
		a.log.WithFields(logrus.Fields{
			"event":   ev.Matchup(),
			"dropped": dropped,
		}).Debug("dropped prop outcomes for players outside the matchup")
	}
}

func (a *Acquirer) playerBelongs(ctx context.Context, ev *core.Event, player string) bool {
	team, found, err := a.roster.TeamOf(ctx, ev.Sport, player)
	if err != nil {
		a.log.WithError(err).WithField("player", player).Debug("roster lookup failed, keeping outcome")
		return true
	}
	if !found {
		return true
	}
	return catalog.TeamMatches(team, ev.HomeTeam) || catalog.TeamMatches(team, ev.AwayTeam)
}

func (a *Acquirer) providerError(err *ProviderFetchError) {
	a.log.WithError(err.Err).WithFields(logrus.Fields{
		"op":        err.Op,
		"sport":     err.Sport,
		"bookmaker": err.Bookmaker,
	}).Warn("odds fetch failed, skipping")
	if a.metrics != nil {
		a.metrics.RecordProviderError("odds", err.Op)
	}
}
