package core

import (
	"time"
)

// Email represents a parsed email message
type Email struct {
	ID            string
	From          string
	To            []string
	Subject       string
	Body          string
	Headers       map[string][]string
	Links         []Link
	SPFPass       *bool
	DKIMPass      *bool
	DMARCPass     *bool
	HasAttachment bool
}

// Link is a hyperlink extracted from the message body
type Link struct {
	URL    string `json:"url"`
	Text   string `json:"text"`
	Domain string `json:"domain"`
}

// Confidence is the classifier's own confidence bucket
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is one of the known confidence buckets
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Prediction is the output of the trained classifier
type Prediction struct {
	IsPhishing  bool       `json:"is_phishing"`
	Confidence  Confidence `json:"confidence"`
	Probability float64    `json:"probability"`
}

// AIVerdict is the arbiter's independent judgment. Nil fields are unknown.
type AIVerdict struct {
	IsPhishing    *bool    `json:"is_phishing,omitempty"`
	PhishingScore *float64 `json:"phishing_score,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
	Model         string   `json:"model,omitempty"`
}

// DetectionMethod names the signal that flagged a message
type DetectionMethod string

const (
	DetectionNone  DetectionMethod = "none"
	DetectionML    DetectionMethod = "ml"
	DetectionRules DetectionMethod = "rules"
	DetectionAI    DetectionMethod = "ai"
)

// RiskLevel is the human-facing tier derived from the phishing score
type RiskLevel string

const (
	RiskSafe       RiskLevel = "Safe"
	RiskSuspicious RiskLevel = "Suspicious"
	RiskHigh       RiskLevel = "High Risk"
)

// RiskLevelFromScore maps a phishing score to its risk tier
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score > 80:
		return RiskHigh
	case score > 50:
		return RiskSuspicious
	default:
		return RiskSafe
	}
}

// RuleAnalysis is the rule engine's point total and triggered indicators
type RuleAnalysis struct {
	Score      int      `json:"score"`
	Indicators []string `json:"indicators"`
}

// Evidence accumulates every sub-analyzer's raw output and error during one analysis
type Evidence struct {
	MLAnalysis   *Prediction  `json:"ml_analysis,omitempty"`
	MLError      string       `json:"ml_error,omitempty"`
	RuleAnalysis RuleAnalysis `json:"rule_analysis"`
	AIAnalysis   *AIVerdict   `json:"ai_analysis,omitempty"`
	AIError      string       `json:"ai_error,omitempty"`
}

// Escalated reports whether the arbiter was consulted
func (e *Evidence) Escalated() bool {
	return e.AIAnalysis != nil || e.AIError != ""
}

// Verdict is the fused result of a phishing analysis
type Verdict struct {
	EmailID         string          `json:"email_id"`
	IsPhishing      bool            `json:"is_phishing"`
	PhishingScore   float64         `json:"phishing_score"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	Evidence        Evidence        `json:"evidence"`
	AnalyzedAt      time.Time       `json:"analyzed_at"`
}

// VerdictStats holds aggregate counts over stored verdicts
type VerdictStats struct {
	Total              int          `json:"total"`
	Phishing           int          `json:"phishing"`
	PhishingPercentage float64      `json:"phishing_percentage"`
	Safe               int          `json:"safe"`
	Suspicious         int          `json:"suspicious"`
	HighRisk           int          `json:"high_risk"`
	Trends             []DailyTrend `json:"trends"`
}

// DailyTrend counts phishing and non-phishing verdicts for one UTC day (YYYY-MM-DD)
type DailyTrend struct {
	Date     string `json:"date"`
	Phishing int    `json:"phishing"`
	Safe     int    `json:"safe"`
}

// VerdictFilter narrows a verdict listing. A nil IsPhishing matches every verdict.
type VerdictFilter struct {
	IsPhishing *bool
}

// VerdictPage is one page of stored verdicts, newest first
type VerdictPage struct {
	Verdicts []*Verdict `json:"verdicts"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// FlagString renders a tri-state authentication flag as Yes, No or Unknown
func FlagString(flag *bool) string {
	if flag == nil {
		return "Unknown"
	}
	if *flag {
		return "Yes"
	}
	return "No"
}
