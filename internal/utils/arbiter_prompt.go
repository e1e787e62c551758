package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/llm-phish-filter/internal/core"
)

// ArbiterSystemPrompt is the instruction shared by every arbiter provider
const ArbiterSystemPrompt = "You are an email security analyst specialised in phishing detection. Respond only with JSON."

const arbiterPromptFormat = `Analyze the following email and decide whether it is a phishing attempt.
Consider impersonation of brands or banks, credential harvesting, urgency and threats, mismatched links,
requests for payment or personal data, and the authentication results below.

Respond with a JSON object containing:
- is_phishing: boolean (true if the email is phishing)
- phishing_score: number between 0 and 100 (higher means more likely to be phishing)
- explanation: string (brief reason for the decision)

Metadata:
Sender: %s
Subject: %s
SPF pass: %s
DKIM pass: %s
DMARC pass: %s
Has attachment: %s

Body:
%s

Respond only with the JSON object and nothing else.`

// arbiterResponse mirrors the JSON requested from the arbiter; every field is optional
type arbiterResponse struct {
	IsPhishing    *bool    `json:"is_phishing"`
	PhishingScore *float64 `json:"phishing_score"`
	Explanation   string   `json:"explanation"`
}

// BuildArbiterPrompt renders the user prompt for the body and metadata
func BuildArbiterPrompt(body string, metadata map[string]string) string {
	return fmt.Sprintf(arbiterPromptFormat,
		metadata["sender"],
		metadata["subject"],
		metadataOrUnknown(metadata, "spf_pass"),
		metadataOrUnknown(metadata, "dkim_pass"),
		metadataOrUnknown(metadata, "dmarc_pass"),
		metadataOrUnknown(metadata, "has_attachment"),
		body,
	)
}

// ParseArbiterResponse extracts the JSON verdict from a model reply, tolerating
// code fences and prose around the object
func ParseArbiterResponse(responseText string, model string) (*core.AIVerdict, error) {
	var resp arbiterResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		jsonStr, ok := ExtractJSONObject(responseText)
		if !ok {
			return nil, fmt.Errorf("failed to extract JSON from arbiter response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse arbiter response as JSON: %w", err)
		}
	}

	return &core.AIVerdict{
		IsPhishing:    resp.IsPhishing,
		PhishingScore: resp.PhishingScore,
		Explanation:   resp.Explanation,
		Model:         model,
	}, nil
}

// ExtractJSONObject returns the outermost {...} span of text
func ExtractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func metadataOrUnknown(metadata map[string]string, key string) string {
	if v, ok := metadata[key]; ok && v != "" {
		return v
	}
	return "Unknown"
}
