package core

import (
	"fmt"
	"strings"
)

// Rule weights and thresholds
const (
	freeMailFinancialPoints = 20
	authFailurePoints       = 30
	subjectKeywordPoints    = 15
	suspiciousLinkPoints    = 10
	suspiciousLinkCap       = 30

	// RulePhishingThreshold is the rule score at which rules alone flag a message
	RulePhishingThreshold = 50
	// RuleEscalationThreshold is the rule score at which an unflagged message goes to the arbiter
	RuleEscalationThreshold = 30
)

var (
	freeMailDomains = map[string]struct{}{
		"gmail.com":   {},
		"yahoo.com":   {},
		"hotmail.com": {},
		"outlook.com": {},
		"aol.com":     {},
		"icloud.com":  {},
	}

	financialTerms = []string{"bank", "account", "verify", "security", "update"}

	subjectKeywords = []string{
		"urgent", "verify", "account", "suspended", "update", "security", "unusual activity", "login",
	}
)

// EvaluateRules scores an email against the fixed structural and textual heuristics
func EvaluateRules(email *Email) RuleAnalysis {
	result := RuleAnalysis{Indicators: []string{}}
	subject := strings.ToLower(email.Subject)

	if domain, ok := senderDomain(email.From); ok {
		if _, free := freeMailDomains[domain]; free && containsAny(subject, financialTerms) {
			result.Score += freeMailFinancialPoints
			result.Indicators = append(result.Indicators, "Suspicious sender domain for financial content")
		}
	}

	if isFalse(email.SPFPass) || isFalse(email.DKIMPass) || isFalse(email.DMARCPass) {
		result.Score += authFailurePoints
		result.Indicators = append(result.Indicators, "Email authentication failure")
	}

	if containsAny(subject, subjectKeywords) {
		result.Score += subjectKeywordPoints
		result.Indicators = append(result.Indicators, "Suspicious keywords in subject")
	}

	suspicious := 0
	for _, link := range email.Links {
		if isSuspiciousLink(link) {
			suspicious++
		}
	}
	if suspicious > 0 {
		result.Score += min(suspicious*suspiciousLinkPoints, suspiciousLinkCap)
		result.Indicators = append(result.Indicators, fmt.Sprintf("Found %d suspicious links", suspicious))
	}

	return result
}

// isSuspiciousLink flags URL-looking anchor text that hides another target, or a raw IP host
func isSuspiciousLink(link Link) bool {
	if strings.Contains(link.Text, "http") && !strings.Contains(link.Text, link.URL) {
		return true
	}
	return isRawIPHost(link.Domain)
}

func isRawIPHost(host string) bool {
	if host == "" {
		return false
	}
	for _, c := range host {
		if c != '.' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// senderDomain returns the lower-cased text after the last @
func senderDomain(sender string) (string, bool) {
	i := strings.LastIndex(sender, "@")
	if i < 0 {
		return "", false
	}
	return strings.ToLower(sender[i+1:]), true
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

func isFalse(flag *bool) bool {
	return flag != nil && !*flag
}
