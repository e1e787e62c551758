package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/utils"
	"go.uber.org/zap"
)

// maxResponseSize bounds how much of a model server reply is read
const maxResponseSize = 1 << 20

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	IsPhishing  *bool    `json:"is_phishing"`
	Confidence  string   `json:"confidence"`
	Probability *float64 `json:"probability"`
}

// Client is an implementation of the Classifier interface backed by an HTTP model server
type Client struct {
	endpoint      string
	httpClient    *http.Client
	timeout       time.Duration
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClient creates a new model server client. A zero timeout disables the per-request deadline.
func NewClient(
	endpoint string,
	timeout time.Duration,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Client {
	return &Client{
		endpoint:      endpoint,
		httpClient:    &http.Client{},
		timeout:       timeout,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// Predict sends the message text to the model server and validates its reply
func (c *Client) Predict(ctx context.Context, text string) (*core.Prediction, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(predictRequest{Text: c.textProcessor.ProcessText(text, c.maxBodySize)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", core.ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", core.ErrClassifierUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: model server returned status %d", core.ErrClassifierUnavailable, resp.StatusCode)
	}

	prediction, err := decodePrediction(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrClassifierUnavailable, err)
	}

	c.logger.Debug("Classifier prediction received",
		zap.Bool("is_phishing", prediction.IsPhishing),
		zap.String("confidence", string(prediction.Confidence)),
		zap.Float64("probability", prediction.Probability),
		zap.Duration("elapsed", time.Since(start)))

	return prediction, nil
}

func decodePrediction(body []byte) (*core.Prediction, error) {
	var pr predictResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("malformed prediction: %w", err)
	}

	if pr.IsPhishing == nil {
		return nil, fmt.Errorf("prediction missing is_phishing")
	}
	confidence := core.Confidence(pr.Confidence)
	if !confidence.Valid() {
		return nil, fmt.Errorf("unknown confidence %q", pr.Confidence)
	}
	if pr.Probability == nil || *pr.Probability < 0 || *pr.Probability > 1 {
		return nil, fmt.Errorf("probability missing or outside [0,1]")
	}

	return &core.Prediction{
		IsPhishing:  *pr.IsPhishing,
		Confidence:  confidence,
		Probability: *pr.Probability,
	}, nil
}
