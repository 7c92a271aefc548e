// Package catalog provides the static sport, bet-type and bookmaker dictionaries
// used to translate user selections into odds provider codes.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AllBetTypes selects every user-selectable bet type.
const AllBetTypes = "ALL"

// Internal widening sets. Callers cannot select these.
const (
	ExpandPlayerProps = "_expand_player_props"
	ExpandTeamProps   = "_expand_team_props"
)

// bulkMarkets can be requested for every event of a sport in one call.
// Anything else needs a per-event query.
var bulkMarkets = map[string]bool{
	"h2h":     true,
	"spreads": true,
	"totals":  true,
}

//go:embed catalog.yaml
var defaultDocument []byte

type expansionSet struct {
	Label string   `yaml:"label"`
	Keys  []string `yaml:"keys"`
}

type document struct {
	Sports       map[string]string       `yaml:"sports"`
	BetTypes     map[string][]string     `yaml:"bet_types"`
	Expansion    map[string]expansionSet `yaml:"expansion"`
	SportMarkets map[string][]string     `yaml:"sport_markets"`
	Bookmakers   map[string]string       `yaml:"bookmakers"`
}

// Catalog holds the lookup tables. It is read-only after Load.
type Catalog struct {
	sports       map[string]string // normalized display name -> code
	sportNames   map[string]string // code -> display name
	betTypes     map[string][]string
	betLabels    []string // sorted user-selectable labels
	expansion    map[string]expansionSet
	sportMarkets map[string]map[string]bool
	bookmakers   map[string]string // normalized display name or key -> key
	keyLabels    map[string]string // market key -> first bet-type label containing it

	log logrus.FieldLogger
}

// Load parses a catalog document.
func Load(data []byte, log logrus.FieldLogger) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Sports) == 0 || len(doc.BetTypes) == 0 {
		return nil, fmt.Errorf("parse catalog: sports and bet_types are required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Catalog{
		sports:       make(map[string]string, len(doc.Sports)),
		sportNames:   make(map[string]string, len(doc.Sports)),
		betTypes:     make(map[string][]string, len(doc.BetTypes)),
		expansion:    doc.Expansion,
		sportMarkets: make(map[string]map[string]bool, len(doc.SportMarkets)),
		bookmakers:   make(map[string]string, len(doc.Bookmakers)*2),
		keyLabels:    make(map[string]string),
		log:          log.WithField("component", "catalog"),
	}

	for name, code := range doc.Sports {
		c.sports[strings.ToLower(name)] = code
		c.sports[code] = code
		c.sportNames[code] = name
	}

	for label, keys := range doc.BetTypes {
		c.betTypes[strings.ToLower(label)] = keys
		c.betLabels = append(c.betLabels, label)
	}
	sort.Strings(c.betLabels)
	for _, label := range c.betLabels {
		for _, k := range doc.BetTypes[label] {
			if _, ok := c.keyLabels[k]; !ok {
				c.keyLabels[k] = label
			}
		}
	}

	for sport, keys := range doc.SportMarkets {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		c.sportMarkets[sport] = set
	}

	for name, key := range doc.Bookmakers {
		c.bookmakers[strings.ToLower(name)] = key
		c.bookmakers[key] = key
	}

	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalog built from the embedded document.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(defaultDocument, nil)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// SportCode returns the provider code for a sport display name or code.
func (c *Catalog) SportCode(name string) (string, bool) {
	code, ok := c.sports[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		c.log.WithField("sport", name).Warn("unknown sport")
	}
	return code, ok
}

// SportCodes resolves many sports, dropping unknown ones.
func (c *Catalog) SportCodes(names []string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, n := range names {
		code, ok := c.SportCode(n)
		if !ok || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// SportName returns the display name for a provider code.
func (c *Catalog) SportName(code string) string {
	if name, ok := c.sportNames[code]; ok {
		return name
	}
	return code
}

// Sports returns display name -> provider code for every known sport.
func (c *Catalog) Sports() map[string]string {
	out := make(map[string]string, len(c.sportNames))
	for code, name := range c.sportNames {
		out[name] = code
	}
	return out
}

// MarketKeys expands bet-type labels into a de-duplicated market key list.
// AllBetTypes selects every user-selectable label. Unknown labels contribute nothing.
func (c *Catalog) MarketKeys(labels []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(keys []string) {
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}

	for _, label := range labels {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == strings.ToLower(AllBetTypes) {
			for _, bl := range c.betLabels {
				add(c.betTypes[strings.ToLower(bl)])
			}
			continue
		}
		if strings.HasPrefix(l, "_") {
			c.log.WithField("bet_type", label).Warn("internal bet type is not selectable")
			continue
		}
		keys, ok := c.betTypes[l]
		if !ok {
			c.log.WithField("bet_type", label).Warn("unknown bet type")
			continue
		}
		add(keys)
	}
	return out
}

// ExpansionKeys returns the market keys of an internal widening set.
func (c *Catalog) ExpansionKeys(set string) []string {
	exp, ok := c.expansion[set]
	if !ok {
		c.log.WithField("expansion", set).Warn("unknown expansion set")
		return nil
	}
	return exp.Keys
}

// ExpansionLabel returns the user-facing name of a widening set.
func (c *Catalog) ExpansionLabel(set string) string {
	if exp, ok := c.expansion[set]; ok && exp.Label != "" {
		return exp.Label
	}
	return set
}

// BetTypes lists the user-selectable bet-type labels.
func (c *Catalog) BetTypes() []string {
	out := make([]string, len(c.betLabels))
	copy(out, c.betLabels)
	return out
}

// LabelFor returns the bet-type label a market key belongs to.
func (c *Catalog) LabelFor(key string) string {
	if l, ok := c.keyLabels[key]; ok {
		return l
	}
	for _, exp := range c.expansion {
		for _, k := range exp.Keys {
			if k == key {
				return exp.Label
			}
		}
	}
	return key
}

// SupportedKeys keeps only the keys a sport supports, preserving order.
func (c *Catalog) SupportedKeys(sportCode string, keys []string) []string {
	set, ok := c.sportMarkets[sportCode]
	if !ok {
		return keys
	}
	var out []string
	for _, k := range keys {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}

// BookmakerKey returns the provider key for a bookmaker display name or key.
func (c *Catalog) BookmakerKey(name string) (string, bool) {
	key, ok := c.bookmakers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		c.log.WithField("bookmaker", name).Warn("unknown bookmaker")
	}
	return key, ok
}

// Bookmakers lists every known bookmaker key, sorted.
func (c *Catalog) Bookmakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range c.bookmakers {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// IsBulkMarket reports whether a market can be fetched for all events at once.
func IsBulkMarket(key string) bool {
	return bulkMarkets[key]
}

// IsPlayerProp reports whether a market key is priced per player.
func IsPlayerProp(key string) bool {
	return strings.HasPrefix(key, "player_")
}

// SplitBulk partitions keys into bulk and per-event sets.
func SplitBulk(keys []string) (bulk, perEvent []string) {
	for _, k := range keys {
		if IsBulkMarket(k) {
			bulk = append(bulk, k)
		} else {
			perEvent = append(perEvent, k)
		}
	}
	return bulk, perEvent
}
