package services

import (
	"spectraq/internal/models"
)

// baseConfidence is reported when a query required no tools at all.
const baseConfidence = 0.7

// confidenceCeiling caps every score so the agent never reports near
// certainty off a heuristic.
const confidenceCeiling = 0.95

// typeWeights scales tool success per query type. Price predictions and
// trading advice carry inherent uncertainty and get lower weights.
var typeWeights = map[models.QueryType]float64{
	models.QueryTypeMarketAnalysis:  0.9,
	models.QueryTypePricePrediction: 0.7,
	models.QueryTypeNewsSentiment:   0.85,
	models.QueryTypeOnChainAnalysis: 0.9,
	models.QueryTypeGeneralCrypto:   0.8,
	models.QueryTypeTradingAdvice:   0.6,
}

// ConfidenceScore computes a heuristic reliability score in [0,1] from the
// tool-call success ratio and the query type weight. Pure and deterministic.
func ConfidenceScore(toolsUsed []models.ToolCall, requiredTools int, queryType models.QueryType) float64 {
	if requiredTools == 0 {
		return baseConfidence
	}

	successful := 0
	for _, tool := range toolsUsed {
		if tool.Error == "" {
			successful++
		}
	}
	successRatio := float64(successful) / float64(requiredTools)

	weight, ok := typeWeights[queryType]
	if !ok {
		weight = 0.7
	}

	score := successRatio * weight
	if score > confidenceCeiling {
		return confidenceCeiling
	}
	if score < 0 {
		return 0
	}
	return score
}
