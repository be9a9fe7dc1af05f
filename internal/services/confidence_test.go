package services

import (
	"testing"

	"spectraq/internal/models"
)

func TestConfidenceNoToolsRequired(t *testing.T) {
	score := ConfidenceScore(nil, 0, models.QueryTypeGeneralCrypto)
	if score != 0.7 {
		t.Errorf("expected base confidence 0.7, got %f", score)
	}
}

func TestConfidenceAllToolsSucceeded(t *testing.T) {
	tools := []models.ToolCall{
		{ToolName: "coingecko.get_market_data"},
		{ToolName: "feargreed.get_fear_greed_index"},
	}
	score := ConfidenceScore(tools, 2, models.QueryTypeMarketAnalysis)
	if score != 0.9 {
		t.Errorf("expected 1.0*0.9 = 0.9, got %f", score)
	}
}

func TestConfidencePartialFailure(t *testing.T) {
	tools := []models.ToolCall{
		{ToolName: "coingecko.get_coin_price"},
		{ToolName: "ccxt.get_ticker", Error: "connection refused"},
	}
	score := ConfidenceScore(tools, 2, models.QueryTypePricePrediction)
	if score != 0.35 {
		t.Errorf("expected 0.5*0.7 = 0.35, got %f", score)
	}
}

func TestConfidenceUnknownTypeWeight(t *testing.T) {
	tools := []models.ToolCall{{ToolName: "complai.compliance_audit"}}
	score := ConfidenceScore(tools, 1, models.QueryTypeComplianceAudit)
	if score != 0.7 {
		t.Errorf("unweighted types must fall back to 0.7, got %f", score)
	}
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	types := []models.QueryType{
		models.QueryTypeMarketAnalysis,
		models.QueryTypePricePrediction,
		models.QueryTypeNewsSentiment,
		models.QueryTypeOnChainAnalysis,
		models.QueryTypeGeneralCrypto,
		models.QueryTypeTradingAdvice,
		models.QueryTypeComplianceAudit,
	}
	for _, qt := range types {
		for failures := 0; failures <= 3; failures++ {
			var tools []models.ToolCall
			for i := 0; i < 3; i++ {
				call := models.ToolCall{ToolName: "x"}
				if i < failures {
					call.Error = "failed"
				}
				tools = append(tools, call)
			}
			score := ConfidenceScore(tools, 3, qt)
			if score < 0 || score > 0.95 {
				t.Errorf("type %s, %d failures: score %f out of [0, 0.95]", qt, failures, score)
			}
		}
	}
}
