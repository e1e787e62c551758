package whitelist

import (
	"strings"

	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// Checker reports whether a sender domain is trusted enough to skip phishing analysis
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker. Entries are exact domains;
// a leading "*." also admits every subdomain.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			normalized[domain] = struct{}{}
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized whitelist checker", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsWhitelisted checks if the sender's domain is in the whitelist
func (c *Checker) IsWhitelisted(from string) bool {
	if len(c.domains) == 0 {
		return false
	}

	from = strings.Trim(strings.TrimSpace(from), "<>")
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return false
	}
	domain := strings.ToLower(from[at+1:])

	if _, ok := c.domains[domain]; ok {
		c.logMatch(domain, from)
		return true
	}
	for d := domain; strings.Contains(d, "."); {
		d = d[strings.Index(d, ".")+1:]
		if _, ok := c.domains["*."+d]; ok {
			c.logMatch(domain, from)
			return true
		}
	}

	return false
}

// Trusts reports whether analysis can be skipped for an email: the sender
// domain is whitelisted and no SPF, DKIM or DMARC result failed.
func (c *Checker) Trusts(email *core.Email) bool {
	if !c.IsWhitelisted(email.From) {
		return false
	}
	if failed(email.SPFPass) || failed(email.DKIMPass) || failed(email.DMARCPass) {
		if c.logger != nil {
			c.logger.Warn("Whitelisted sender failed authentication, analyzing anyway",
				zap.String("sender", email.From),
				zap.String("spf", core.FlagString(email.SPFPass)),
				zap.String("dkim", core.FlagString(email.DKIMPass)),
				zap.String("dmarc", core.FlagString(email.DMARCPass)))
		}
		return false
	}
	return true
}

func failed(flag *bool) bool {
	return flag != nil && !*flag
}

func (c *Checker) logMatch(domain, from string) {
	if c.logger != nil {
		c.logger.Debug("Domain is whitelisted",
			zap.String("domain", domain),
			zap.String("email", from))
	}
}
