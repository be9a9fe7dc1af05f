package services

import (
	"regexp"
	"strings"
)

var (
	solidityBlockRe = regexp.MustCompile("(?s)```solidity\\s*(.*?)\\s*```")
	codeBlockRe     = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// extractContractCode pulls smart-contract source out of a query: fenced
// solidity blocks first, then any fenced block, then the whole query when it
// reads like contract source.
func extractContractCode(query string) string {
	if m := solidityBlockRe.FindStringSubmatch(query); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := codeBlockRe.FindStringSubmatch(query); m != nil {
		return strings.TrimSpace(m[1])
	}

	queryLower := strings.ToLower(query)
	for _, kw := range []string{"pragma", "solidity", "function", "contract"} {
		if strings.Contains(queryLower, kw) {
			return query
		}
	}
	return ""
}

// extractStandards lists the compliance standards named in the query,
// defaulting to the core trio when none are.
func extractStandards(queryLower string) []string {
	var standards []string

	if strings.Contains(queryLower, "aml") || strings.Contains(queryLower, "money laundering") {
		standards = append(standards, "AML")
	}
	if strings.Contains(queryLower, "gdpr") || strings.Contains(queryLower, "privacy") {
		standards = append(standards, "GDPR")
	}
	if strings.Contains(queryLower, "kyc") || strings.Contains(queryLower, "know your customer") {
		standards = append(standards, "KYC")
	}
	if strings.Contains(queryLower, "eerc") || strings.Contains(queryLower, "enhanced erc") || strings.Contains(queryLower, "avalanche") {
		standards = append(standards, "eERC")
	}

	if len(standards) == 0 {
		standards = []string{"AML", "GDPR", "KYC"}
	}
	return standards
}

// needsComplianceCheck reports whether a query should pass through the
// compliance branch of the pipeline even when it was not classified as a
// compliance audit.
func needsComplianceCheck(query string) bool {
	queryLower := strings.ToLower(query)
	for _, kw := range []string{
		"trade", "transaction", "contract", "smart contract",
		"regulatory", "compliance", "audit", "risk",
	} {
		if strings.Contains(queryLower, kw) {
			return true
		}
	}
	return false
}
