package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/versus/internal/domain/types"
)

// ErrStatus is returned when the service answers with an unexpected status.
var ErrStatus = errors.New("unexpected status")

// Client talks to the versus HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, http.StatusOK, nil)
}

// StartSession opens a server-side round.
func (c *Client) StartSession(ctx context.Context, req types.SessionStartRequest) (types.SessionResponse, error) {
	var out types.SessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions", req, http.StatusCreated, &out)
	return out, err
}

// Pick records a pick in a server-side round.
func (c *Client) Pick(ctx context.Context, sessionID, slot string) (types.SessionResponse, error) {
	var out types.SessionResponse
	path := "/sessions/" + url.PathEscape(sessionID) + "/picks"
	err := c.do(ctx, http.MethodPost, path, types.PickRequest{Slot: slot}, http.StatusOK, &out)
	return out, err
}

// Scores fetches the ranked scores of a player.
func (c *Client) Scores(ctx context.Context, playerID string) (types.ScoresResponse, error) {
	var out types.ScoresResponse
	err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(playerID)+"/scores", nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var e types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
