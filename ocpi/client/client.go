package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the roaming platform HTTP client: token-authenticated JSON POSTs
// with a bounded per-call timeout and a small retry budget.
type Client struct {
	client  *http.Client
	url     string
	token   string
	timeout time.Duration
}

func New(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:     url,
		token:   token,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Post sends synchronously and returns the response body; used where the
// caller needs the answer inline (authorization).
func (c *Client) Post(endpoint string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling body: %w", err)
	}
	return c.doRequest(endpoint, body)
}

// PostAsync retries in the background and reports through the callback; used
// for best-effort pushes that must not hold the message handler.
func (c *Client) PostAsync(endpoint string, data interface{}, callback func(resp []byte, err error)) {
	body, err := json.Marshal(data)
	if err != nil {
		callback(nil, fmt.Errorf("marshalling body: %w", err))
		return
	}
	go func() {
		var resp []byte
		for attempt := 0; attempt < 3; attempt++ {
			resp, err = c.doRequest(endpoint, body)
			if err == nil {
				callback(resp, nil)
				return
			}
			time.Sleep(time.Duration((attempt+1)*10) * time.Second)
		}
		callback(nil, err)
	}()
}

func (c *Client) doRequest(endpoint string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	url := fmt.Sprintf("%v%v", c.url, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
