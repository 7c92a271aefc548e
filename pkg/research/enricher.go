package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/cache"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/store"
)

// Depth controls how much research is gathered per event.
type Depth int

const (
	// DepthModerate runs one matchup query per event.
	DepthModerate Depth = iota
	// DepthDeep adds a query for a few named prop participants.
	DepthDeep
)

// DepthFor maps a risk tier to a research depth.
func DepthFor(tier core.RiskTier) Depth {
	if tier == core.RiskConservative {
		return DepthDeep
	}
	return DepthModerate
}

// Search types used in the persistent news cache.
const (
	SearchMatchup = "matchup"
	SearchPlayer  = "player"
)

// Searcher runs free-text queries.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// NewsStore is the persistent research cache.
type NewsStore interface {
	Get(ctx context.Context, sport, searchType, team string, now time.Time) (*store.NewsEntry, error)
	Put(ctx context.Context, entry *store.NewsEntry) error
}

// Research is the context gathered for one event.
type Research struct {
	Summary string            `json:"summary"`
	Sources []SearchResult    `json:"sources,omitempty"`
	Players map[string]string `json:"players,omitempty"`
}

// Enriched pairs an event with its research. Research is nil when the event
// was not selected or its lookup failed.
type Enriched struct {
	Event    core.Event `json:"event"`
	Research *Research  `json:"research,omitempty"`
	Priority float64    `json:"priority"`
}

// Config tunes enrichment.
type Config struct {
	TopK            int
	BatchSize       int
	CacheTTL        time.Duration
	StoreTTL        time.Duration
	CallTimeout     time.Duration
	FastCallTimeout time.Duration
	MaxPlayers      int
	MaxSummaryChars int
	RateCeiling     int     // provider calls per second
	WarnRatio       float64 // fraction of RateCeiling that triggers a warning
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:            25,
		BatchSize:       10,
		CacheTTL:        30 * time.Minute,
		StoreTTL:        6 * time.Hour,
		CallTimeout:     8 * time.Second,
		FastCallTimeout: 3 * time.Second,
		MaxPlayers:      4,
		MaxSummaryChars: 1200,
		RateCeiling:     50,
		WarnRatio:       0.8,
	}
}

// Options are per-request settings.
type Options struct {
	Depth Depth
	Fast  bool
}

// Metrics receives research counters.
type Metrics interface {
	RecordCacheLookup(layer, outcome string)
	RecordProviderError(provider, op string)
}

// Enricher attaches research to events.
type Enricher struct {
	cfg      Config
	searcher Searcher
	news     NewsStore
	catalog  *catalog.Catalog
	memory   *cache.Memory[[]SearchResult]
	inflight singleflight.Group
	counter  *rateCounter
	metrics  Metrics
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithNewsStore adds the persistent news cache.
func WithNewsStore(s NewsStore) Option { return func(e *Enricher) { e.news = s } }

// WithMetrics records cache and provider counters.
func WithMetrics(m Metrics) Option { return func(e *Enricher) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(e *Enricher) { e.log = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(e *Enricher) { e.now = now } }

// NewEnricher creates an Enricher.
func NewEnricher(cfg Config, searcher Searcher, cat *catalog.Catalog, opts ...Option) *Enricher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	e := &Enricher{
		cfg:      cfg,
		searcher: searcher,
		catalog:  cat,
		log:      logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "research")
	e.memory = cache.NewMemory[[]SearchResult](cfg.CacheTTL * 4).WithClock(e.now)
	e.counter = newRateCounter(e.now)
	return e
}

// Enrich returns every event in priority order, with research attached to
// the top K. Failures leave that event's research nil.
func (e *Enricher) Enrich(ctx context.Context, events []core.Event, opts Options) []Enriched {
	now := e.now()
	order := rank(events, now)

	out := make([]Enriched, len(order))
	for i, r := range order {
		out[i] = Enriched{Event: events[r.index], Priority: r.priority}
	}
	if e.searcher == nil {
		return out
	}

	k := e.cfg.TopK
	if k > len(out) {
		k = len(out)
	}

	for start := 0; start < k; start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > k {
			end = k
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				out[i].Research = e.research(ctx, out[i].Event, opts)
				return nil
			})
		}
		_ = g.Wait()
	}

	enriched := 0
	for _, en := range out {
		if en.Research != nil {
			enriched++
		}
	}
	e.log.WithFields(logrus.Fields{
		"events":   len(events),
		"selected": k,
		"enriched": enriched,
		"deep":     opts.Depth == DepthDeep,
	}).Info("research enrichment finished")
	return out
}

func (e *Enricher) research(ctx context.Context, ev core.Event, opts Options) *Research {
	sport := e.catalog.SportName(ev.Sport)
	query := fmt.Sprintf("%s vs %s %s injury report preview", ev.AwayTeam, ev.HomeTeam, sport)

	results, err := e.lookup(ctx, ev.Sport, SearchMatchup, ev.Matchup(), query, opts.Fast)
	if err != nil {
		e.log.WithError(err).WithField("event", ev.Matchup()).Warn("research failed, continuing without it")
		return nil
	}

	r := &Research{
		Summary: summarize(results, e.cfg.MaxSummaryChars),
		Sources: results,
	}

	if opts.Depth == DepthDeep {
		for _, player := range propPlayers(ev, e.cfg.MaxPlayers) {
			pq := fmt.Sprintf("%s %s recent stats last 5 games", player, sport)
			pres, err := e.lookup(ctx, ev.Sport, SearchPlayer, player, pq, opts.Fast)
			if err != nil {
				e.log.WithError(err).WithField("player", player).Debug("player research failed")
				continue
			}
			if len(pres) == 0 {
				continue
			}
			if r.Players == nil {
				r.Players = make(map[string]string)
			}
			r.Players[player] = summarize(pres, e.cfg.MaxSummaryChars/3)
		}
	}
	return r
}

// lookup resolves a query through the memory cache, the news store and
// finally the provider. Concurrent identical queries share one call.
func (e *Enricher) lookup(ctx context.Context, sport, searchType, subject, query string, fast bool) ([]SearchResult, error) {
	key := catalog.QueryKey(query)
	if v, ok := e.memory.Fresh(key, e.cfg.CacheTTL); ok {
		e.recordLookup("memory", "fresh")
		return v, nil
	}
	e.recordLookup("memory", "miss")

	v, err, _ := e.inflight.Do(key, func() (interface{}, error) {
		if results, ok := e.fromStore(ctx, sport, searchType, subject); ok {
			e.memory.Set(key, results)
			return results, nil
		}

		timeout := e.cfg.CallTimeout
		if fast {
			timeout = e.cfg.FastCallTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if n := e.counter.hit(); e.cfg.RateCeiling > 0 && float64(n) >= float64(e.cfg.RateCeiling)*e.cfg.WarnRatio {
			e.log.WithFields(logrus.Fields{"calls_this_second": n, "ceiling": e.cfg.RateCeiling}).
				Warn("search provider call rate near ceiling")
		}

		results, err := e.searcher.Search(callCtx, query)
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordProviderError("search", searchType)
			}
			return nil, err
		}
		e.memory.Set(key, results)
		e.toStore(ctx, sport, searchType, subject, query, results)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]SearchResult), nil
}

func (e *Enricher) fromStore(ctx context.Context, sport, searchType, subject string) ([]SearchResult, bool) {
	if e.news == nil {
		return nil, false
	}
	entry, err := e.news.Get(ctx, sport, searchType, subject, e.now())
	if err != nil {
		e.log.WithError(err).Debug("news cache read failed")
		return nil, false
	}
	if entry == nil {
		e.recordLookup("db", "miss")
		return nil, false
	}
	var results []SearchResult
	if err := json.Unmarshal(entry.Payload, &results); err != nil {
		return nil, false
	}
	e.recordLookup("db", "fresh")
	return results, true
}

func (e *Enricher) toStore(ctx context.Context, sport, searchType, subject, query string, results []SearchResult) {
	if e.news == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return
	}
	now := e.now()
	err = e.news.Put(ctx, &store.NewsEntry{
		Sport:      sport,
		SearchType: searchType,
		Team:       subject,
		Query:      query,
		Payload:    payload,
		FetchedAt:  now,
		ExpiresAt:  now.Add(e.cfg.StoreTTL),
	})
	if err != nil {
		e.log.WithError(err).Debug("news cache write failed")
	}
}

func (e *Enricher) recordLookup(layer, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordCacheLookup("research-"+layer, outcome)
	}
}

// propPlayers lists distinct prop participants in first-seen order.
func propPlayers(ev core.Event, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, bm := range ev.Bookmakers {
		for _, m := range bm.Markets {
			if !catalog.IsPlayerProp(m.Key) {
				continue
			}
			for _, o := range m.Outcomes {
				if o.Description == "" || seen[o.Description] {
					continue
				}
				seen[o.Description] = true
				out = append(out, o.Description)
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// summarize joins hit titles and snippets, truncated to max runes.
func summarize(results []SearchResult, max int) string {
	var b strings.Builder
	for _, r := range results {
		if r.Snippet == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Title, r.Snippet)
	}
	return truncate(strings.TrimSpace(b.String()), max)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// rateCounter counts calls in the current one-second window.
type rateCounter struct {
	mu     sync.Mutex
	now    func() time.Time
	window time.Time
	count  int
}

func newRateCounter(now func() time.Time) *rateCounter {
	return &rateCounter{now: now}
}

// hit records a call and returns the count for the current second.
func (c *rateCounter) hit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec := c.now().Truncate(time.Second)
	if !sec.Equal(c.window) {
		c.window = sec
		c.count = 0
	}
	c.count++
	return c.count
}
