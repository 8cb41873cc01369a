package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
)

// Client talks to the game server's REST surface. It satisfies Puller.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Body   types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Body.Error, e.Body.Message)
	}
	return fmt.Sprintf("status %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) MySession(ctx context.Context) (types.MySession, error) {
	var ms types.MySession
	err := c.do(ctx, http.MethodGet, "/game/my-session", nil, &ms)
	return ms, err
}

// LatestResult returns nil when the server has no completed round.
func (c *Client) LatestResult(ctx context.Context) (*types.GameResult, error) {
	var res *types.GameResult
	if err := c.do(ctx, http.MethodGet, "/game/latest-result", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Status(ctx context.Context) (types.SessionStatus, error) {
	var s types.SessionStatus
	err := c.do(ctx, http.MethodGet, "/game/status", nil, &s)
	return s, err
}

func (c *Client) Join(ctx context.Context) (types.JoinResponse, error) {
	var resp types.JoinResponse
	err := c.do(ctx, http.MethodPost, "/game/join", nil, &resp)
	return resp, err
}

func (c *Client) ChooseNumber(ctx context.Context, n int) (types.ChooseNumberResponse, error) {
	var resp types.ChooseNumberResponse
	err := c.do(ctx, http.MethodPost, "/game/choose-number", types.ChooseNumberRequest{Number: &n}, &resp)
	return resp, err
}

// WebSocketURL derives the /ws endpoint from BaseURL.
func (c *Client) WebSocketURL() string {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Header carries the bearer token for the /ws handshake.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}
