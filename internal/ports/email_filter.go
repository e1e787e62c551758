package ports

import (
	"context"

	"github.com/mikey/llm-phish-filter/internal/core"
)

// EmailFilter defines the interface for a transport that feeds mail into the detector
type EmailFilter interface {
	// ProcessEmail analyzes an email and returns the verdict
	ProcessEmail(ctx context.Context, email *core.Email) (*core.Verdict, error)

	// Start starts the email filter service
	Start() error

	// Stop stops the email filter service
	Stop() error
}
