// Package acquisition gathers odds for a request: cache first, then the live
// provider, widening markets and falling back to other bookmakers until there
// are enough options to build the requested parlay.
package acquisition

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/cache"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/oddsapi"
	"github.com/phenomenon0/parlay-agents/pkg/store"
)

// Source labels reported in Result.Source.
const (
	SourceMemory     = "memory-cache"
	SourceShared     = "redis-cache"
	SourcePersistent = "db-cache"
	SourceLive       = "live"
	SourceNone       = "none"
)

// OddsSource is the live odds provider.
type OddsSource interface {
	GetOdds(ctx context.Context, q oddsapi.OddsQuery) ([]core.Event, error)
	ListEvents(ctx context.Context, sport string, from, to time.Time) ([]oddsapi.EventSummary, error)
	GetEventOdds(ctx context.Context, sport, eventID string, markets, bookmakers []string) (*core.Event, error)
}

// SharedCache is a cross-process JSON cache.
type SharedCache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (time.Time, bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, storedAt time.Time) error
}

// SnapshotStore persists odds rows.
type SnapshotStore interface {
	UpsertEvents(ctx context.Context, events []core.Event, fetchedAt time.Time) error
	LoadEvents(ctx context.Context, f store.OddsFilter) ([]core.Event, time.Time, error)
}

// RosterLookup resolves a player to a team name.
type RosterLookup interface {
	TeamOf(ctx context.Context, sport, name string) (string, bool, error)
}

// Metrics receives acquisition counters.
type Metrics interface {
	RecordCacheLookup(layer, outcome string)
	RecordProviderError(provider, op string)
}

// Config tunes acquisition.
type Config struct {
	FreshFor           time.Duration // cache age considered fresh
	Retention          time.Duration // how long stale entries stay usable
	SingleDayWindow    time.Duration // window used when one day is requested
	PropWorkers        int
	DefaultBookmaker   string
	FallbackBookmakers []string
	DefaultMarkets     []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FreshFor:           24 * time.Hour,
		Retention:          72 * time.Hour,
		SingleDayWindow:    30 * time.Hour,
		PropWorkers:        4,
		DefaultBookmaker:   "draftkings",
		FallbackBookmakers: []string{"fanduel", "draftkings", "betmgm", "williamhill_us"},
		DefaultMarkets:     []string{core.MarketMoneyline, core.MarketSpread, core.MarketTotal},
	}
}

// Request describes what the caller wants odds for.
type Request struct {
	Sports    []string
	BetTypes  []string
	Legs      int
	Days      int
	Bookmaker string
	AllowLive bool
}

// Result is the outcome of one acquisition call.
type Result struct {
	Events             []core.Event
	MarketKeys         []string
	Bookmaker          string
	Source             string
	Degraded           bool
	FallbackUsed       bool
	FallbackBookmakers []string
	Expanded           bool
	ExpandedBetTypes   []string
	Options            int
	DataQuality        float64
	From               time.Time
	To                 time.Time

	// Insufficient is set with Err when nothing could be acquired.
	Insufficient bool
	Err          error
}

type snapshot struct {
	Events []core.Event `json:"events"`
}

// Acquirer fetches odds for pipeline runs. It is safe for concurrent use;
// only the caches are shared between calls.
type Acquirer struct {
	cfg     Config
	catalog *catalog.Catalog
	source  OddsSource
	memory  *cache.Memory[snapshot]
	shared  SharedCache
	store   SnapshotStore
	roster  RosterLookup
	metrics Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithSharedCache adds a cross-process cache layer.
func WithSharedCache(c SharedCache) Option { return func(a *Acquirer) { a.shared = c } }

// WithSnapshotStore adds the persistent cache layer.
func WithSnapshotStore(s SnapshotStore) Option { return func(a *Acquirer) { a.store = s } }

// WithRoster enables prop filtering by team.
func WithRoster(r RosterLookup) Option { return func(a *Acquirer) { a.roster = r } }

// WithMetrics records cache and provider counters.
func WithMetrics(m Metrics) Option { return func(a *Acquirer) { a.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(a *Acquirer) { a.log = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(a *Acquirer) { a.now = now } }

// New creates an Acquirer.
func New(cfg Config, cat *catalog.Catalog, source OddsSource, opts ...Option) *Acquirer {
	if cfg.PropWorkers <= 0 {
		cfg.PropWorkers = 1
	}
	a := &Acquirer{
		cfg:     cfg,
		catalog: cat,
		source:  source,
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithField("component", "acquisition")
	a.memory = cache.NewMemory[snapshot](cfg.Retention).WithClock(a.now)
	return a
}

// Window returns the commence-time bounds for a request made at now.
func (a *Acquirer) Window(now time.Time, days int) (time.Time, time.Time) {
	if days <= 1 {
		return now, now.Add(a.cfg.SingleDayWindow)
	}
	return now, now.Add(time.Duration(days) * 24 * time.Hour)
}

// Prune drops in-process snapshots past retention.
func (a *Acquirer) Prune() int {
	return a.memory.Prune()
}

// CacheKey identifies a (sports, bookmaker, market set, window length)
// combination. Entries are filtered against the actual window on every read.
func CacheKey(sports []string, bookmaker string, keys []string, days int) string {
	s := append([]string(nil), sports...)
	k := append([]string(nil), keys...)
	sort.Strings(s)
	sort.Strings(k)
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("odds:%s:%s:%s:%dd", strings.Join(s, ","), bookmaker, strings.Join(k, ","), days)
}

// Acquire runs the full acquisition flow. It never returns provider errors;
// a request that yields no events comes back with Insufficient set.
func (a *Acquirer) Acquire(ctx context.Context, req Request) *Result {
	now := a.now()
	from, to := a.Window(now, req.Days)

	sports := a.catalog.SportCodes(req.Sports)
	bookmaker := a.resolveBookmaker(req.Bookmaker)
	keys := a.catalog.MarketKeys(req.BetTypes)
	if len(keys) == 0 {
		keys = append([]string(nil), a.cfg.DefaultMarkets...)
	}

	res := &Result{
		MarketKeys: keys,
		Bookmaker:  bookmaker,
		Source:     SourceNone,
		From:       from,
		To:         to,
	}
	if len(sports) == 0 {
		res.Insufficient = true
		res.Err = fmt.Errorf("%w: no known sports in %v", ErrInsufficientData, req.Sports)
		return res
	}

	need := 2 * req.Legs
	events, source, degraded := a.collect(ctx, sports, bookmaker, keys, from, to, req.Days, req.AllowLive)
	res.Source, res.Degraded = source, degraded

	set := newEventSet()
	for _, ev := range events {
		set.addNew(ev)
	}

	// Widen the market set while options are short.
	if set.len() > 0 && countOptions(set.events()) < need && req.AllowLive {
		for _, exp := range []string{catalog.ExpandPlayerProps, catalog.ExpandTeamProps} {
			added := a.widen(ctx, set, bookmaker, keys, exp)
			if len(added) == 0 {
				continue
			}
			keys = append(keys, added...)
			res.Expanded = true
			res.ExpandedBetTypes = append(res.ExpandedBetTypes, a.catalog.ExpansionLabel(exp))
			if countOptions(set.events()) >= need {
				break
			}
		}
		res.MarketKeys = keys
	}

	// Fall back to other bookmakers; the primary keeps every id it already has.
	if countOptions(set.events()) < need {
		for _, fb := range a.cfg.FallbackBookmakers {
			if fb == bookmaker {
				continue
			}
			fbEvents, fbSource, fbDegraded := a.collect(ctx, sports, fb, keys, from, to, req.Days, req.AllowLive)
			added := 0
			for _, ev := range fbEvents {
				if set.addNew(ev) {
					added++
				}
			}
			if added == 0 {
				continue
			}
			res.FallbackUsed = true
			res.FallbackBookmakers = append(res.FallbackBookmakers, fb)
			if res.Source == SourceNone {
				res.Source, res.Degraded = fbSource, fbDegraded
			} else if fbDegraded {
				res.Degraded = true
			}
			a.log.WithFields(logrus.Fields{"bookmaker": fb, "added": added}).Info("fallback bookmaker added events")
			if countOptions(set.events()) >= need {
				break
			}
		}
	}

	res.Events = set.events()
	res.Options = countOptions(res.Events)
	res.DataQuality = DataQuality(res.Events)

	if len(res.Events) == 0 {
		res.Insufficient = true
		res.Err = ErrInsufficientData
		a.log.WithFields(logrus.Fields{"sports": sports, "bookmaker": bookmaker}).Warn("no events from cache, live or fallbacks")
	}
	return res
}

func (a *Acquirer) resolveBookmaker(name string) string {
	if name == "" {
		return a.cfg.DefaultBookmaker
	}
	if key, ok := a.catalog.BookmakerKey(name); ok {
		return key
	}
	return a.cfg.DefaultBookmaker
}

// collect returns events for one bookmaker: a fresh cache hit, else a stale
// but still future-dated hit, else a live fetch when permitted.
func (a *Acquirer) collect(ctx context.Context, sports []string, bookmaker string, keys []string, from, to time.Time, days int, allowLive bool) ([]core.Event, string, bool) {
	key := CacheKey(sports, bookmaker, keys, days)
	now := a.now()

	var (
		stale       []core.Event
		staleSource string
	)
	for _, layer := range a.layers() {
		events, storedAt, ok := layer.get(ctx, key, sports, bookmaker, keys, from, to)
		if !ok {
			a.recordLookup(layer.name, "miss")
			continue
		}
		events = withinWindow(events, from, to)
		if len(events) == 0 {
			a.recordLookup(layer.name, "miss")
			continue
		}
		if now.Sub(storedAt) < a.cfg.FreshFor {
			a.recordLookup(layer.name, "fresh")
			return events, layer.name, false
		}
		a.recordLookup(layer.name, "stale")
		if stale == nil {
			stale, staleSource = events, layer.name
		}
	}

	if stale != nil {
		a.log.WithFields(logrus.Fields{"source": staleSource, "bookmaker": bookmaker}).Info("serving stale odds")
		return stale, staleSource, true
	}
	if !allowLive {
		return nil, SourceNone, false
	}

	events := a.fetchLive(ctx, sports, bookmaker, keys, from, to)
	if len(events) > 0 {
		a.writeBack(ctx, key, events, now)
		return events, SourceLive, false
	}
	return nil, SourceNone, false
}

// widen fetches the expansion set's new keys for every event in set and
// merges them in. Returns the keys that produced at least one market.
func (a *Acquirer) widen(ctx context.Context, set *eventSet, bookmaker string, current []string, expansion string) []string {
	have := make(map[string]bool, len(current))
	for _, k := range current {
		have[k] = true
	}
	var newKeys []string
	for _, k := range a.catalog.ExpansionKeys(expansion) {
		if !have[k] {
			newKeys = append(newKeys, k)
		}
	}
	if len(newKeys) == 0 {
		return nil
	}

	fetched := a.fetchEventMarkets(ctx, set.events(), bookmaker, newKeys)
	if len(fetched) == 0 {
		return nil
	}

	produced := make(map[string]bool)
	for _, ev := range fetched {
		for _, k := range ev.MarketKeys() {
			produced[k] = true
		}
		set.mergeMarkets(ev)
	}
	if a.store != nil {
		if err := a.store.UpsertEvents(ctx, fetched, a.now()); err != nil {
			a.log.WithError(err).Warn("persisting widened markets failed")
		}
	}

	var added []string
	for _, k := range newKeys {
		if produced[k] {
			added = append(added, k)
		}
	}
	a.log.WithFields(logrus.Fields{"expansion": expansion, "keys": added}).Info("widened market set")
	return added
}

func (a *Acquirer) writeBack(ctx context.Context, key string, events []core.Event, fetchedAt time.Time) {
	a.memory.SetAt(key, snapshot{Events: core.CloneEvents(events)}, fetchedAt)
	if a.shared != nil {
		if err := a.shared.SetJSON(ctx, key, snapshot{Events: events}, fetchedAt); err != nil {
			a.log.WithError(err).Warn("shared cache write failed")
		}
	}
	if a.store != nil {
		if err := a.store.UpsertEvents(ctx, events, fetchedAt); err != nil {
			a.log.WithError(err).Warn("odds persistence failed")
		}
	}
}

func (a *Acquirer) recordLookup(layer, outcome string) {
	if a.metrics != nil {
		a.metrics.RecordCacheLookup(layer, outcome)
	}
}

type cacheLayer struct {
	name string
	get  func(ctx context.Context, key string, sports []string, bookmaker string, keys []string, from, to time.Time) ([]core.Event, time.Time, bool)
}

func (a *Acquirer) layers() []cacheLayer {
	layers := []cacheLayer{{
		name: SourceMemory,
		get: func(_ context.Context, key string, _ []string, _ string, _ []string, _, _ time.Time) ([]core.Event, time.Time, bool) {
			e, ok := a.memory.Get(key)
			return e.Value.Events, e.StoredAt, ok
		},
	}}

	if a.shared != nil {
		layers = append(layers, cacheLayer{
			name: SourceShared,
			get: func(ctx context.Context, key string, _ []string, _ string, _ []string, _, _ time.Time) ([]core.Event, time.Time, bool) {
				var snap snapshot
				storedAt, ok, err := a.shared.GetJSON(ctx, key, &snap)
				if err != nil {
					a.log.WithError(err).Debug("shared cache read failed")
					return nil, time.Time{}, false
				}
				if ok && a.now().Sub(storedAt) >= a.cfg.Retention {
					return nil, time.Time{}, false
				}
				return snap.Events, storedAt, ok
			},
		})
	}

	if a.store != nil {
		layers = append(layers, cacheLayer{
			name: SourcePersistent,
			get: func(ctx context.Context, _ string, sports []string, bookmaker string, keys []string, from, to time.Time) ([]core.Event, time.Time, bool) {
				events, fetchedAt, err := a.store.LoadEvents(ctx, store.OddsFilter{
					Sports:     sports,
					Bookmakers: []string{bookmaker},
					MarketKeys: keys,
					From:       from,
					To:         to,
				})
				if err != nil {
					a.log.WithError(err).Debug("odds store read failed")
					return nil, time.Time{}, false
				}
				if len(events) == 0 || a.now().Sub(fetchedAt) >= a.cfg.Retention {
					return nil, time.Time{}, false
				}
				return events, fetchedAt, true
			},
		})
	}
	return layers
}
