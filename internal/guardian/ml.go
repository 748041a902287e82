package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMLTimeout bounds one prediction call.
const DefaultMLTimeout = 2 * time.Second

// HTTPPredictor calls a remote classifier at {endpoint}/predict.
type HTTPPredictor struct {
	endpoint   string
	httpClient *http.Client
}

type predictRequest struct {
	Text string `json:"text"`
}

// NewHTTPPredictor creates a predictor. timeout <= 0 uses DefaultMLTimeout.
func NewHTTPPredictor(endpoint string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = DefaultMLTimeout
	}
	return &HTTPPredictor{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPredictor) Name() string { return "http" }

// Predict posts the prompt text and decodes the model's opinion.
func (p *HTTPPredictor) Predict(ctx context.Context, text string) (Prediction, error) {
	body, err := json.Marshal(predictRequest{Text: text})
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("predict failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode predict response: %w", err)
	}
	return pred, nil
}
