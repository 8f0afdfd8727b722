package mailclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the external mail delivery service over HTTP. When skip
// is set the client logs nothing and pretends delivery succeeded, which is
// the default for local development.
type Client struct {
	baseURL string
	from    string
	skip    bool
	http    *http.Client
}

// New creates a mail client.
func New(baseURL, from string, skip bool) *Client {
	return &Client{
		baseURL: baseURL,
		from:    from,
		skip:    skip,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send delivers one message through the mail service.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if c.skip {
		return nil
	}
	payload, err := json.Marshal(sendRequest{From: c.from, To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail service returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// Health checks the mail service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail service health returned %d", resp.StatusCode)
	}
	return nil
}
