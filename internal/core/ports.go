package core

import (
	"context"
	"errors"
)

var (
	// ErrClassifierUnavailable marks any failure of the classifier service
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrArbiterUnavailable marks any failure of the AI arbiter service
	ErrArbiterUnavailable = errors.New("arbiter unavailable")
)

// Classifier defines the interface for the trained phishing classifier
type Classifier interface {
	// Predict scores the message body text
	Predict(ctx context.Context, text string) (*Prediction, error)
}

// Arbiter defines the interface for the AI service consulted on borderline cases
type Arbiter interface {
	// AnalyzePhishing returns an independent judgment for the body text and metadata
	AnalyzePhishing(ctx context.Context, text string, metadata map[string]string) (*AIVerdict, error)
}

// VerdictRepository defines the interface for persisting verdicts
type VerdictRepository interface {
	// Save stores the verdict for an email, replacing any earlier one
	Save(ctx context.Context, emailID string, verdict *Verdict) error

	// Get retrieves the stored verdict for an email
	Get(ctx context.Context, emailID string) (*Verdict, error)

	// List returns one page (1-based) of stored verdicts matching the filter, newest first
	List(ctx context.Context, filter VerdictFilter, page, pageSize int) (*VerdictPage, error)

	// Delete permanently removes the stored verdict for an email
	Delete(ctx context.Context, emailID string) error

	// Stats returns counts of stored verdicts by risk level, the phishing share and daily trends
	Stats(ctx context.Context) (*VerdictStats, error)

	// Cleanup removes verdicts past the retention window
	Cleanup(ctx context.Context) error
}
