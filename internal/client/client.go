// Package client talks to the game's REST API under the request budget.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zombidef.ai/internal/protocol"
	"zombidef.ai/internal/ratelimit"
)

// ErrNotParticipating matches transport errors saying the player is not in the current round.
var ErrNotParticipating = errors.New("not participating in round")

// TransportError is a non-2xx response.
type TransportError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.Status, e.Body)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrNotParticipating && protocol.IsNotParticipating(e.Body)
}

// DecodeError is a 2xx response whose body could not be decoded.
type DecodeError struct {
	Op   string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode: %v body=%s", e.Op, e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL string
	Game    string
	Token   string
	Timeout time.Duration
	Limiter *ratelimit.Window
	Logger  *log.Logger
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

type Client struct {
	base    string
	game    string
	token   string
	limiter *ratelimit.Window
	http    *http.Client
	log     *log.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url: %s", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("empty auth token")
	}
	if cfg.Game == "" {
		cfg.Game = protocol.DefaultGame
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(3, time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:    strings.TrimRight(u.String(), "/"),
		game:    cfg.Game,
		token:   strings.TrimSpace(cfg.Token),
		limiter: cfg.Limiter,
		http:    hc,
		log:     cfg.Logger,
	}, nil
}

func (c *Client) ListRounds(ctx context.Context) (protocol.RoundsResponse, error) {
	var out protocol.RoundsResponse
	err := c.do(ctx, "list rounds", http.MethodGet, protocol.RoundsPath(c.game), nil, &out)
	return out, err
}

// JoinRound registers for the round that is currently open. The API does not take the round
// name; it is only used for logging.
func (c *Client) JoinRound(ctx context.Context, name string) (protocol.JoinResponse, error) {
	var out protocol.JoinResponse
	err := c.do(ctx, "join round", http.MethodPut, protocol.ParticipatePath(c.game), nil, &out)
	if err == nil {
		c.log.Printf("joined round=%q starts_in=%ds", name, out.StartsInSec)
	}
	return out, err
}

func (c *Client) FetchTerrain(ctx context.Context) (protocol.WorldResponse, error) {
	var out protocol.WorldResponse
	err := c.do(ctx, "fetch terrain", http.MethodGet, protocol.WorldPath(c.game), nil, &out)
	return out, err
}

func (c *Client) FetchUnits(ctx context.Context) (protocol.UnitsResponse, error) {
	var out protocol.UnitsResponse
	err := c.do(ctx, "fetch units", http.MethodGet, protocol.UnitsPath(c.game), nil, &out)
	return out, err
}

func (c *Client) SubmitCommand(ctx context.Context, cmd protocol.Command) (protocol.CommandResponse, error) {
	var out protocol.CommandResponse
	b, err := json.Marshal(cmd)
	if err != nil {
		return out, fmt.Errorf("encode command: %w", err)
	}
	err = c.do(ctx, "submit command", http.MethodPost, protocol.CommandPath(c.game), b, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else if method == http.MethodPut || method == http.MethodPost {
		rd = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set(protocol.AuthHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(truncate(raw, 8*1024))}
	}
	if err := protocol.Decode(raw, out); err != nil {
		return &DecodeError{Op: op, Body: truncate(raw, 8*1024), Err: err}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
