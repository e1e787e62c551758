package mailparse

import (
	"bytes"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/emersion/go-msgauth/authres"
	"github.com/emersion/go-msgauth/dkim"
	"github.com/jhillyerd/enmime"
	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Parser turns raw RFC 5322 messages into core.Email values
type Parser struct {
	logger     *zap.Logger
	verifyDKIM bool
}

// NewParser creates a new Parser. When verifyDKIM is set, DKIM signatures are
// checked locally and override any upstream Authentication-Results.
func NewParser(logger *zap.Logger, verifyDKIM bool) *Parser {
	return &Parser{
		logger:     logger,
		verifyDKIM: verifyDKIM,
	}
}

// Parse reads a raw message. Envelope sender and recipients take precedence
// over the From and To headers when provided.
func (p *Parser) Parse(raw []byte, envelopeFrom string, recipients []string) (*core.Email, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if len(env.Errors) > 0 {
		p.logger.Debug("Message parsed with defects", zap.Int("defects", len(env.Errors)))
	}

	email := &core.Email{
		ID:            strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>"),
		From:          envelopeFrom,
		To:            recipients,
		Subject:       norm.NFKC.String(env.GetHeader("Subject")),
		Body:          env.Text,
		Headers:       copyHeaders(env.Root.Header),
		Links:         ExtractLinks(env.HTML, env.Text),
		HasAttachment: len(env.Attachments) > 0,
	}

	if email.From == "" {
		if addrs, err := env.AddressList("From"); err == nil && len(addrs) > 0 {
			email.From = addrs[0].Address
		}
	}
	if len(email.To) == 0 {
		if addrs, err := env.AddressList("To"); err == nil {
			for _, a := range addrs {
				email.To = append(email.To, a.Address)
			}
		}
	}

	p.applyAuthResults(email, env.GetHeaderValues("Authentication-Results"))
	if email.SPFPass == nil {
		email.SPFPass = receivedSPF(env.GetHeaderValues("Received-Spf"))
	}
	if p.verifyDKIM {
		if dkimPass := p.verify(raw); dkimPass != nil {
			email.DKIMPass = dkimPass
		}
	}

	return email, nil
}

// applyAuthResults fills the tri-state flags from the first result per method.
// Headers are prepended by each hop, so the first value is the closest MTA.
func (p *Parser) applyAuthResults(email *core.Email, values []string) {
	for _, v := range values {
		_, results, err := authres.Parse(v)
		if err != nil {
			p.logger.Debug("Unparseable Authentication-Results", zap.Error(err))
			continue
		}
		for _, res := range results {
			switch r := res.(type) {
			case *authres.SPFResult:
				if email.SPFPass == nil {
					email.SPFPass = resultFlag(r.Value)
				}
			case *authres.DKIMResult:
				if email.DKIMPass == nil {
					email.DKIMPass = resultFlag(r.Value)
				}
			case *authres.DMARCResult:
				if email.DMARCPass == nil {
					email.DMARCPass = resultFlag(r.Value)
				}
			}
		}
	}
}

func (p *Parser) verify(raw []byte) *bool {
	verifications, err := dkim.Verify(bytes.NewReader(raw))
	if err != nil {
		p.logger.Debug("DKIM verification failed", zap.Error(err))
		return nil
	}
	if len(verifications) == 0 {
		return nil
	}

	pass := false
	for _, v := range verifications {
		if v.Err == nil {
			pass = true
			break
		}
		p.logger.Debug("DKIM signature rejected",
			zap.String("domain", v.Domain),
			zap.Error(v.Err))
	}
	return &pass
}

// receivedSPF reads the leading result keyword of a Received-SPF header
func receivedSPF(values []string) *bool {
	for _, v := range values {
		fields := strings.Fields(v)
		if len(fields) == 0 {
			continue
		}
		if flag := resultFlag(authres.ResultValue(strings.ToLower(fields[0]))); flag != nil {
			return flag
		}
	}
	return nil
}

// resultFlag maps pass to true, definite failures to false and anything else to unknown
func resultFlag(v authres.ResultValue) *bool {
	var flag bool
	switch v {
	case authres.ResultPass:
		flag = true
	case authres.ResultFail, authres.ResultSoftFail, authres.ResultPermError:
		flag = false
	default:
		return nil
	}
	return &flag
}

func copyHeaders(h textproto.MIMEHeader) map[string][]string {
	headers := make(map[string][]string, len(h))
	for k, v := range h {
		headers[k] = append([]string(nil), v...)
	}
	return headers
}
