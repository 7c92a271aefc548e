package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/odds"
)

// Sentinels around the machine-readable leg list in model output.
const (
	LegsStart = "===LEGS_JSON_START==="
	LegsEnd   = "===LEGS_JSON_END==="
)

// OutputKind tags how a model response was understood.
type OutputKind int

const (
	// Unstructured output carries prose only.
	Unstructured OutputKind = iota
	// Structured output carries a parsed leg list.
	Structured
)

func (k OutputKind) String() string {
	if k == Structured {
		return "structured"
	}
	return "unstructured"
}

// Output is a parsed model response. Legs is set only for Structured.
type Output struct {
	Kind OutputKind
	Raw  string
	// Text is Raw with the structured block removed.
	Text string
	Legs []core.Leg
	// ParseErr is set when sentinels were present but the block did not parse.
	ParseErr error
}

// ParseOutput splits a model response into prose and an optional leg list.
func ParseOutput(raw string) Output {
	out := Output{Kind: Unstructured, Raw: raw, Text: strings.TrimSpace(raw)}

	block, text, found := cutBlock(raw)
	if !found {
		return out
	}
	out.Text = text

	legs, err := parseLegs(block)
	if err != nil {
		out.ParseErr = err
		return out
	}
	if len(legs) == 0 {
		out.ParseErr = fmt.Errorf("structured block has no legs")
		return out
	}
	out.Kind = Structured
	out.Legs = legs
	return out
}

// StripStructured removes every sentinel block from text.
func StripStructured(text string) string {
	for {
		_, rest, found := cutBlock(text)
		if !found {
			return text
		}
		text = rest
	}
}

// cutBlock extracts the first sentinel block. A missing end sentinel takes
// the rest of the text.
func cutBlock(s string) (block, rest string, found bool) {
	start := strings.Index(s, LegsStart)
	if start < 0 {
		return "", s, false
	}
	after := s[start+len(LegsStart):]
	end := strings.Index(after, LegsEnd)
	if end < 0 {
		return after, strings.TrimSpace(s[:start]), true
	}
	block = after[:end]
	rest = strings.TrimSpace(s[:start]) + "\n" + strings.TrimSpace(after[end+len(LegsEnd):])
	return block, strings.TrimSpace(rest), true
}

func parseLegs(block string) ([]core.Leg, error) {
	block = stripMarkdownCodeBlocks(block)
	jsonStr := extractJSON(block)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON found in structured block")
	}

	var items []map[string]interface{}
	if strings.HasPrefix(jsonStr, "[") {
		if err := json.Unmarshal([]byte(jsonStr), &items); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		var wrapper map[string]interface{}
		if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		arr, ok := wrapper["legs"].([]interface{})
		if !ok {
			arr, ok = wrapper["picks"].([]interface{})
		}
		if !ok {
			return nil, fmt.Errorf("JSON object has no legs array")
		}
		for _, v := range arr {
			if m, ok := v.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
	}

	legs := make([]core.Leg, 0, len(items))
	for _, m := range items {
		legs = append(legs, core.Leg{
			Date:       extractString(m, "date"),
			Event:      firstString(m, "game", "event", "matchup"),
			Bet:        firstString(m, "bet", "pick", "selection"),
			Odds:       extractOdds(m["odds"]),
			Confidence: extractInt(m, "confidence"),
			Rationale:  firstString(m, "reasoning", "rationale"),
		})
	}
	return legs, nil
}

// stripMarkdownCodeBlocks removes ```json ... ``` wrappers
func stripMarkdownCodeBlocks(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// extractJSON finds the first complete JSON array or object in a string.
// Brackets inside string literals are skipped.
func extractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	var open, close rune

	for i, c := range s {
		if start == -1 {
			if c == '[' || c == '{' {
				start = i
				open = c
				close = ']'
				if c == '{' {
					close = '}'
				}
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractString extracts a string from a map
func extractString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := extractString(m, k); s != "" {
			return s
		}
	}
	return ""
}

// extractInt reads a numeric or numeric-string field. Missing or
// unparseable values give 0, which fails the confidence range check.
func extractInt(m map[string]interface{}, key string) int {
	switch val := m[key].(type) {
	case float64:
		return int(val)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// extractOdds keeps strings verbatim and renders numbers in signed form.
func extractOdds(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return odds.FormatAmerican(int(val))
	}
	return ""
}

var (
	legMarker      = regexp.MustCompile(`(?i)\bleg\s*#?\s*(\d+)\b`)
	numberedMarker = regexp.MustCompile(`(?m)^\s*(?:\*\*)?(\d+)[.)]\s+\S`)
)

// CountLegsHeuristic estimates the number of legs in prose by counting
// distinct "Leg N" markers, falling back to numbered list items. Best effort.
func CountLegsHeuristic(text string) int {
	if n := distinctNumbers(legMarker.FindAllStringSubmatch(text, -1)); n > 0 {
		return n
	}
	return distinctNumbers(numberedMarker.FindAllStringSubmatch(text, -1))
}

func distinctNumbers(matches [][]string) int {
	seen := make(map[string]bool)
	for _, m := range matches {
		seen[m[1]] = true
	}
	return len(seen)
}
