package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calderhq/navigator/internal/pkg/retrywait"
)

// Ticket is the payload handed to the human support queue when a
// conversation escalates: who to contact, why, and the tail of the
// conversation so the agent can pick up without replaying it.
type Ticket struct {
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	Role           string            `json:"role,omitempty"`
	Email          string            `json:"email,omitempty"`
	Reason         string            `json:"reason"`
	SentimentScore float64           `json:"sentiment_score,omitempty"`
	Summary        string            `json:"summary"`
	Transcript     []TranscriptEntry `json:"transcript,omitempty"`
}

// TranscriptEntry is one turn of the handoff transcript.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	endpoint string
	apiKey   string
	attempts int
	hc       *http.Client
}

func New(endpoint, apiKey string, timeout time.Duration, attempts int) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		attempts: attempts,
		hc:       &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	TicketRef string `json:"ticket_ref"`
}

// Create files the ticket, retrying transient failures. It returns the
// external ticket reference on success.
func (c *Client) Create(ctx context.Context, t *Ticket) (string, error) {
	var out createResponse
	err := retrywait.Do(ctx, c.attempts, 300*time.Millisecond, func() error {
		return c.post(ctx, t, &out)
	})
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	if out.TicketRef == "" {
		return "", fmt.Errorf("ticketing service returned empty ticket_ref")
	}
	return out.TicketRef, nil
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
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ticketing service status %d: %s", resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
