package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/llm-phish-filter/internal/adapters/mailparse"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/metrics"
	"github.com/mikey/llm-phish-filter/internal/whitelist"
	"go.uber.org/zap"
)

// Analyzer produces a verdict for an email
type Analyzer interface {
	AnalyzeEmail(ctx context.Context, email *core.Email) (*core.Verdict, error)
}

// PostfixOptions configures the Postfix content filter
type PostfixOptions struct {
	ListenAddr      string
	AnalysisTimeout time.Duration
	BlockHighRisk   bool
	Headers         HeaderNames
	PostfixAddr     string
	PostfixPort     int
	PostfixEnabled  bool
	ModifySubject   bool
	SubjectPrefix   string
}

// PostfixFilter implements a Postfix content filter
type PostfixFilter struct {
	service   Analyzer
	parser    *mailparse.Parser
	whitelist *whitelist.Checker
	metrics   *metrics.Collector
	logger    *zap.Logger
	opts      PostfixOptions
	tagger    *messageTagger
	server    *smtp.Server
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(
	service Analyzer,
	parser *mailparse.Parser,
	whitelistChecker *whitelist.Checker,
	collector *metrics.Collector,
	logger *zap.Logger,
	opts PostfixOptions,
) *PostfixFilter {
	if opts.SubjectPrefix == "" && opts.ModifySubject {
		opts.SubjectPrefix = "[PHISHING] "
	}

	return &PostfixFilter{
		service:   service,
		parser:    parser,
		whitelist: whitelistChecker,
		metrics:   collector,
		logger:    logger,
		opts:      opts,
		tagger: &messageTagger{
			headers:       opts.Headers,
			modifySubject: opts.ModifySubject,
			subjectPrefix: opts.SubjectPrefix,
		},
	}
}

// Start starts the Postfix filter service
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})

	f.server.Addr = f.opts.ListenAddr
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = 30 * 1024 * 1024
	f.server.MaxRecipients = 50

	f.logger.Info("Postfix filter starting", zap.String("address", f.opts.ListenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the Postfix filter service
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// ProcessEmail analyzes an already parsed email
func (f *PostfixFilter) ProcessEmail(ctx context.Context, email *core.Email) (*core.Verdict, error) {
	start := time.Now()
	verdict, err := f.service.AnalyzeEmail(ctx, email)
	f.metrics.ObserveVerdict(verdict, time.Since(start).Seconds())
	return verdict, err
}

// filterMessage runs a raw message through the detector and returns the
// message to re-inject. A non-nil error rejects the message.
func (f *PostfixFilter) filterMessage(ctx context.Context, sender string, recipients []string, raw []byte) ([]byte, error) {
	email, err := f.parser.Parse(raw, sender, recipients)
	if err != nil {
		f.logger.Warn("Failed to parse message, passing it through untagged",
			zap.String("sender", sender),
			zap.Error(err))
		return f.tagger.tag(raw, "", nil, err), nil
	}

	if f.whitelist.Trusts(email) {
		f.metrics.ObserveWhitelisted()
		f.logger.Info("Skipping analysis for whitelisted sender", zap.String("sender", email.From))
		return raw, nil
	}

	if f.opts.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.AnalysisTimeout)
		defer cancel()
	}

	verdict, analysisErr := f.ProcessEmail(ctx, email)
	if analysisErr != nil {
		f.logger.Error("Failed to analyze email",
			zap.String("sender", email.From),
			zap.String("email_id", email.ID),
			zap.Error(analysisErr))
	}

	if verdict != nil && verdict.RiskLevel == core.RiskHigh && f.opts.BlockHighRisk && analysisErr == nil {
		f.metrics.ObserveRejected()
		f.logger.Info("Rejecting high risk email",
			zap.String("from", email.From),
			zap.String("email_id", verdict.EmailID),
			zap.Float64("score", verdict.PhishingScore),
			zap.String("method", string(verdict.DetectionMethod)))
		return nil, &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Rejected as phishing (score: %.1f)", verdict.PhishingScore),
		}
	}

	return f.tagger.tag(raw, email.Subject, verdict, analysisErr), nil
}

// sendToPostfix sends the processed email back to Postfix on the configured port using go-smtp
func (f *PostfixFilter) sendToPostfix(sender string, recipients []string, emailData []byte) error {
	postfixAddr := net.JoinHostPort(f.opts.PostfixAddr, fmt.Sprint(f.opts.PostfixPort))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", postfixAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}

	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}

	if _, err := wc.Write(emailData); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		// already delivered
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}

	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *PostfixFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data filters the message and hands it back to Postfix
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	out, err := s.filter.filterMessage(context.Background(), s.sender, s.recipients, raw)
	if err != nil {
		return err
	}

	if !s.filter.opts.PostfixEnabled {
		s.filter.logger.Warn("Postfix forwarding disabled, this is likely a misconfiguration")
		return nil
	}

	if err := s.filter.sendToPostfix(s.sender, s.recipients, out); err != nil {
		s.filter.logger.Error("Failed to send email back to Postfix",
			zap.Error(err),
			zap.String("sender", s.sender))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure re-injecting message",
		}
	}

	return nil
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}
