package services

import "spectraq/internal/models"

var followUpsByType = map[models.QueryType][]string{
	models.QueryTypePricePrediction: {
		"What factors are driving this price movement?",
		"How does this compare to other cryptocurrencies?",
		"What's the risk level of this prediction?",
	},
	models.QueryTypeNewsSentiment: {
		"How is this affecting Bitcoin price?",
		"What other coins might be impacted?",
		"Show me the most recent news headlines",
	},
	models.QueryTypeOnChainAnalysis: {
		"What does this mean for retail investors?",
		"Are there similar patterns in other tokens?",
		"Show me the whale transaction details",
	},
	models.QueryTypeMarketAnalysis: {
		"What's your trading recommendation?",
		"How does technical analysis look?",
		"What are the key support levels?",
	},
	models.QueryTypeComplianceAudit: {
		"What are the most critical issues to fix first?",
		"How can I implement these compliance fixes?",
		"Are there any regulatory deadlines I need to meet?",
	},
}

var defaultFollowUps = []string{
	"Tell me more about cryptocurrency markets",
	"What should I know about crypto investing?",
	"Show me current market trends",
}

// FollowUpSuggestions returns the follow-up questions offered alongside a
// response of the given query type.
func FollowUpSuggestions(queryType models.QueryType) []string {
	if suggestions, ok := followUpsByType[queryType]; ok {
		return suggestions
	}
	return defaultFollowUps
}
