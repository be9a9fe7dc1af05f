package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spectraq/internal/models"
)

// ToolTemplate is a tool descriptor in a classification rule. Param values
// may contain the {symbol} and {pair} placeholders, expanded against the
// symbol extracted from the query.
type ToolTemplate struct {
	Server string                 `yaml:"server"`
	Tool   string                 `yaml:"tool"`
	Params map[string]interface{} `yaml:"params"`
}

// Rule is one row of the classification table. Rows are evaluated in fixed
// order; every matching row appends its tools and overwrites the query type,
// so when several rows match, the LAST matching row determines the type.
// This order dependence is deliberate and matched by tests.
type Rule struct {
	Keywords   []string         `yaml:"keywords"`
	Type       models.QueryType `yaml:"type"`
	Tools      []ToolTemplate   `yaml:"tools"`
	Compliance bool             `yaml:"compliance,omitempty"`
}

// Matches reports whether any of the rule's keywords occurs in the
// lower-cased query.
func (r Rule) Matches(queryLower string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(queryLower, kw) {
			return true
		}
	}
	return false
}

// greetings short-circuit classification: exact or prefix match yields the
// general type with zero tools.
var greetings = []string{
	"hi", "hello", "hey", "greetings", "good morning", "good afternoon",
	"good evening", "howdy", "sup", "what's up",
}

// defaultRules is the compiled-in classification table.
func defaultRules() []Rule {
	return []Rule{
		{
			Keywords: []string{"price", "cost", "value", "$", "bitcoin", "btc", "ethereum", "eth"},
			Type:     models.QueryTypePricePrediction,
			Tools: []ToolTemplate{
				{Server: "coingecko", Tool: "get_coin_price", Params: map[string]interface{}{"symbol": "{symbol}"}},
				{Server: "ccxt", Tool: "get_ticker", Params: map[string]interface{}{"symbol": "{pair}"}},
			},
		},
		{
			Keywords: []string{"sentiment", "fear", "greed", "mood", "feeling"},
			Type:     models.QueryTypeMarketAnalysis,
			Tools: []ToolTemplate{
				{Server: "feargreed", Tool: "get_fear_greed_index", Params: map[string]interface{}{}},
				{Server: "cryptopanic", Tool: "get_news", Params: map[string]interface{}{"filter": "rising"}},
			},
		},
		{
			Keywords: []string{"news", "headlines", "events", "happening", "latest"},
			Type:     models.QueryTypeNewsSentiment,
			Tools: []ToolTemplate{
				{Server: "cryptopanic", Tool: "get_news", Params: map[string]interface{}{"filter": "hot"}},
			},
		},
		{
			Keywords: []string{"analysis", "analyze", "market", "trend", "technical"},
			Type:     models.QueryTypeMarketAnalysis,
			Tools: []ToolTemplate{
				{Server: "coingecko", Tool: "get_market_data", Params: map[string]interface{}{}},
				{Server: "feargreed", Tool: "get_fear_greed_index", Params: map[string]interface{}{}},
			},
		},
		{
			Keywords: []string{"whale", "large", "transactions", "on-chain"},
			Type:     models.QueryTypeOnChainAnalysis,
			Tools: []ToolTemplate{
				{Server: "whaletracker", Tool: "get_whale_alerts", Params: map[string]interface{}{"min_value": 1000000}},
			},
		},
		{
			Keywords: []string{"audit", "compliance", "contract", "smart contract", "regulatory", "aml", "gdpr", "kyc"},
			Type:     models.QueryTypeComplianceAudit,
			// Tools are built dynamically from the extracted contract code.
			Compliance: true,
		},
	}
}

// defaultFallbackTools is what a query with no recognized keywords gets.
func defaultFallbackTools() []models.ToolInvocation {
	return []models.ToolInvocation{
		{Server: "coingecko", Tool: "get_coin_price", Parameters: map[string]interface{}{"symbol": "BTC"}},
		{Server: "feargreed", Tool: "get_fear_greed_index", Parameters: map[string]interface{}{}},
	}
}

// Classifier maps query text to a query type and the tool invocations
// needed to answer it. Pure keyword matching; it never fails.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier with the compiled-in rule table.
func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules()}
}

// NewClassifierFromFile loads the rule table from a YAML file.
func NewClassifierFromFile(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse classifier rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("classifier rules file %s is empty", path)
	}
	return &Classifier{rules: rules}, nil
}

// Rules exposes the active table so tests can enumerate rows.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Analyze classifies a query. Deterministic and side-effect free: the same
// input always yields the same output.
func (c *Classifier) Analyze(query string) models.QueryAnalysis {
	queryLower := strings.ToLower(strings.TrimSpace(query))

	if isGreeting(queryLower) {
		return models.QueryAnalysis{
			Type:       models.QueryTypeGeneralCrypto,
			Tools:      []models.ToolInvocation{},
			Confidence: 0.9,
		}
	}

	symbol := extractSymbol(queryLower)
	queryType := models.QueryTypeGeneralCrypto
	var tools []models.ToolInvocation

	for _, rule := range c.rules {
		if !rule.Matches(queryLower) {
			continue
		}
		queryType = rule.Type

		if rule.Compliance {
			if code := extractContractCode(query); code != "" {
				tools = append(tools, models.ToolInvocation{
					Server: "complai",
					Tool:   "compliance_audit",
					Parameters: map[string]interface{}{
						"contract_code": code,
						"standards":     extractStandards(queryLower),
					},
				})
			}
			continue
		}

		for _, tmpl := range rule.Tools {
			tools = append(tools, expandTemplate(tmpl, symbol))
		}
	}

	if len(tools) == 0 && queryType == models.QueryTypeGeneralCrypto {
		tools = defaultFallbackTools()
	}
	if tools == nil {
		tools = []models.ToolInvocation{}
	}

	return models.QueryAnalysis{
		Type:       queryType,
		Tools:      tools,
		Confidence: 0.8,
	}
}

func isGreeting(queryLower string) bool {
	for _, g := range greetings {
		if queryLower == g || strings.HasPrefix(queryLower, g) {
			return true
		}
	}
	return false
}

// extractSymbol picks the coin symbol mentioned in the query, defaulting
// to BTC.
func extractSymbol(queryLower string) string {
	switch {
	case strings.Contains(queryLower, "ethereum") || strings.Contains(queryLower, "eth"):
		return "ETH"
	case strings.Contains(queryLower, "cardano") || strings.Contains(queryLower, "ada"):
		return "ADA"
	case strings.Contains(queryLower, "solana") || strings.Contains(queryLower, "sol"):
		return "SOL"
	default:
		return "BTC"
	}
}

func expandTemplate(tmpl ToolTemplate, symbol string) models.ToolInvocation {
	params := make(map[string]interface{}, len(tmpl.Params))
	for k, v := range tmpl.Params {
		if s, ok := v.(string); ok {
			s = strings.ReplaceAll(s, "{symbol}", symbol)
			s = strings.ReplaceAll(s, "{pair}", symbol+"/USDT")
			params[k] = s
			continue
		}
		params[k] = v
	}
	return models.ToolInvocation{Server: tmpl.Server, Tool: tmpl.Tool, Parameters: params}
}
