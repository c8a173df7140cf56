package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client queries the campus records service for structured facts the
// knowledge base does not hold (enrollment status, deadlines, balances).
type Client struct {
	endpoint string
	apiKey   string
	hc       *http.Client
}

func New(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{endpoint: endpoint, apiKey: apiKey, hc: &http.Client{Timeout: timeout}}
}

type lookupRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

type lookupResponse struct {
	Found  bool   `json:"found"`
	Result string `json:"result"`
}

// Lookup returns a textual answer and whether the service had one.
func (c *Client) Lookup(ctx context.Context, userID, query string) (string, bool, error) {
	body, err := json.Marshal(lookupRequest{Query: query, UserID: userID})
	if err != nil {
		return "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", false, fmt.Errorf("lookup service status %d: %s", resp.StatusCode, string(data))
	}
	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, err
	}
	return out.Result, out.Found, nil
}
