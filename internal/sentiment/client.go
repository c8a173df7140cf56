package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/retrywait"
)

// Client calls the external sentiment classifier. Callers treat a failed
// classification as neutral; the assistant must keep answering when this
// service is down.
type Client struct {
	endpoint string
	apiKey   string
	attempts int
	hc       *http.Client
}

func New(endpoint, apiKey string, timeout time.Duration, attempts int) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if attempts <= 0 {
		attempts = 2
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		attempts: attempts,
		hc:       &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

func (c *Client) Classify(ctx context.Context, text string) (*model.Sentiment, error) {
	var out classifyResponse
	err := retrywait.Do(ctx, c.attempts, 200*time.Millisecond, func() error {
		return c.post(ctx, classifyRequest{Text: text}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("classify sentiment: %w", err)
	}
	if out.Score < -1 || out.Score > 1 {
		return nil, fmt.Errorf("classifier returned score out of range: %v", out.Score)
	}
	return &model.Sentiment{Score: out.Score, Label: out.Label}, nil
}

func (c *Client) post(ctx context.Context, in interface{}, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sentiment service status %d: %s", resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
