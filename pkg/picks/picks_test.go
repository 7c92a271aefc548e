package picks

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
)

type fakeClient struct {
	text   string
	err    error
	prompt string
}

func (f *fakeClient) Complete(ctx context.Context, prompt, system string) (*generation.Completion, error) {
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &generation.Completion{Text: f.text, Model: "fake", CostUSD: 0.002}, nil
}

func (f *fakeClient) Model() string { return "fake" }

func newTestSuggester(c generation.LLMClient) *Suggester {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewSuggester(generation.ClientSet{Thorough: c}, catalog.Default(), l)
}

func TestPrune(t *testing.T) {
	game := "Bills @ Chiefs"
	picks := []core.Leg{
		{Event: game, Bet: "Over 47.5", Odds: "-110"},
		{Event: game, Bet: "Under 47.5", Odds: "-110"},
		{Event: "Jets @ Dolphins", Bet: "Over 47.5", Odds: "-105"},
		{Event: game, Bet: "over 47.5", Odds: "-110"},
		{Event: "", Bet: "Jets ML", Odds: "+120"},
		{Event: "Bears @ Lions", Bet: "Lions ML", Odds: "n/a"},
		{Event: "Bears @ Lions", Bet: "Lions -6.5", Odds: "-110"},
		{Event: "Rams @ Seahawks", Bet: "Rams ML", Odds: "+140"},
	}

	kept, dropped := Prune(picks, 3)

	if len(kept) != 3 {
		t.Fatalf("Expected 3 picks, got %d", len(kept))
	}
	wantBets := []string{"Over 47.5", "Over 47.5", "Lions -6.5"}
	for i, w := range wantBets {
		if kept[i].Bet != w {
			t.Errorf("Expected pick %d to be %q, got %q", i, w, kept[i].Bet)
		}
	}
	if kept[0].Event != game || kept[1].Event != "Jets @ Dolphins" {
		t.Errorf("Expected earlier pick kept over later conflict, got %+v", kept[:2])
	}
	if len(dropped) != 5 {
		t.Errorf("Expected 5 dropped picks, got %d", len(dropped))
	}
	if dropped[len(dropped)-1].Reason != "over the requested count" {
		t.Errorf("Expected last drop to be the cap, got %q", dropped[len(dropped)-1].Reason)
	}
}

func TestPrune_NoCap(t *testing.T) {
	kept, _ := Prune([]core.Leg{
		{Event: "A @ B", Bet: "A ML", Odds: "+100"},
		{Event: "C @ D", Bet: "C ML", Odds: "+100"},
	}, 0)
	if len(kept) != 2 {
		t.Errorf("Expected 2 picks, got %d", len(kept))
	}
}

func TestSuggest(t *testing.T) {
	client := &fakeClient{text: "Picks:\n" + generation.LegsStart + `{"picks":[
		{"date":"2026-10-19","game":"Bills @ Chiefs","bet":"Chiefs -3.5","odds":"-110","confidence":6,"reasoning":"home"},
		{"date":"2026-10-19","game":"Bills @ Chiefs","bet":"Bills +3.5","odds":"-110","confidence":5,"reasoning":"dog"},
		{"date":"2026-10-19","game":"Jets @ Dolphins","bet":"Under 41.5","odds":-105,"confidence":7,"reasoning":"weather"}
	]}` + generation.LegsEnd}

	res, err := newTestSuggester(client).Suggest(context.Background(), Request{Count: 2, Sports: []string{"NFL"}})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(res.Picks) != 2 || res.Picks[1].Bet != "Under 41.5" || res.Picks[1].Odds != "-105" {
		t.Errorf("Unexpected picks: %+v", res.Picks)
	}
	if len(res.Dropped) != 1 {
		t.Errorf("Expected the opposing spread dropped, got %+v", res.Dropped)
	}
	if !strings.Contains(client.prompt, "Suggest 2 independent single bets from NFL") {
		t.Errorf("Unexpected prompt:\n%s", client.prompt)
	}
	if res.Model != "fake" {
		t.Errorf("Expected model fake, got %s", res.Model)
	}
}

func TestSuggest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		noPick bool
	}{
		{"model failure", &fakeClient{err: errors.New("boom")}, false},
		{"prose only", &fakeClient{text: "I like the Chiefs."}, true},
		{"broken block", &fakeClient{text: generation.LegsStart + "{oops" + generation.LegsEnd}, true},
		{"all malformed", &fakeClient{text: generation.LegsStart + `[{"game":"A @ B","bet":"A ML","odds":"?"}]` + generation.LegsEnd}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestSuggester(tt.client).Suggest(context.Background(), Request{})
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, ErrNoPicks) != tt.noPick {
				t.Errorf("Expected ErrNoPicks=%v, got %v", tt.noPick, err)
			}
		})
	}
}

func TestClampCount(t *testing.T) {
	if clampCount(0) != DefaultCount || clampCount(100) != MaxCount || clampCount(3) != 3 {
		t.Error("Unexpected clamp results")
	}
}
