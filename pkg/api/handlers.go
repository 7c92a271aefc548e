package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phenomenon0/parlay-agents/pkg/odds"
	"github.com/phenomenon0/parlay-agents/pkg/pipeline"
)

// errorBody is the shape of every failed response.
type errorBody struct {
	Error     string `json:"error"`
	RetryHint string `json:"retry_hint,omitempty"`
}

// CombineRequest lists American prices to join into one parlay.
type CombineRequest struct {
	Legs []string `json:"legs"`
}

// CombineResponse is the priced parlay.
type CombineResponse struct {
	American           string   `json:"american"`
	Decimal            string   `json:"decimal"`
	Payout             string   `json:"payout_on_100"`
	Profit             string   `json:"profit_on_100"`
	ImpliedProbability string   `json:"implied_probability_pct"`
	LegProbabilities   []string `json:"leg_probabilities_pct"`
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, pipeline.ErrGenerationFailed):
		// Provider errors stay in the logs.
		s.log.WithError(err).Warn("generation failed")
		c.JSON(http.StatusBadGateway, errorBody{Error: "no suggestion could be generated", RetryHint: pipeline.RetryHintGeneration})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorBody{Error: "request timed out", RetryHint: "Retry in fast mode or with fewer sports."})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		c.Status(499)
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (s *Server) buildParlay(c *gin.Context) {
	var req pipeline.ParlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	res, err := s.svc.BuildParlay(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) suggestPicks(c *gin.Context) {
	var req pipeline.PicksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	res, err := s.svc.SuggestPicks(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sports":     s.cat.Sports(),
		"bet_types":  s.cat.BetTypes(),
		"bookmakers": s.cat.Bookmakers(),
	})
}

func (s *Server) combineOdds(c *gin.Context) {
	var req CombineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	combo, err := odds.CombineLegs(req.Legs)
	if err != nil {
		var oddsErr *odds.InvalidOddsError
		var inputErr *odds.InvalidInputError
		if errors.As(err, &oddsErr) || errors.As(err, &inputErr) {
			c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		s.fail(c, err)
		return
	}

	probs := make([]string, len(req.Legs))
	for i, leg := range req.Legs {
		p, err := odds.ImpliedProbability(leg)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		probs[i] = p.StringFixed(2)
	}

	c.JSON(http.StatusOK, CombineResponse{
		American:           combo.American,
		Decimal:            combo.Decimal.StringFixed(4),
		Payout:             combo.PayoutString(),
		Profit:             combo.ProfitString(),
		ImpliedProbability: odds.ImpliedProbabilityFromDecimal(combo.Decimal).StringFixed(2),
		LegProbabilities:   probs,
	})
}
