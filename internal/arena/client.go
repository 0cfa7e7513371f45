package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// ErrMoveRejected means the platform refused a move submission: the move
// was illegal for the current position or the game is already over.
var ErrMoveRejected = errors.New("arena: move rejected")

const (
	callTimeout     = 10 * time.Second
	defaultRetries  = 3
	defaultRateWait = 60 * time.Second

	retryBase    = 150 * time.Millisecond
	retryCeil    = 5 * time.Second
	errBodyLimit = 512
)

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client

	timeout       time.Duration
	retryMax      int
	rateLimitWait time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithRateLimitWait overrides the pause after a 429 response.
func WithRateLimitWait(d time.Duration) Option {
	return func(c *Client) { c.rateLimitWait = d }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		timeout:       callTimeout,
		retryMax:      defaultRetries,
		rateLimitWait: defaultRateWait,
		http: &fasthttp.Client{
			Name:            "squire",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			MaxConnsPerHost: 32,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account verifies the credential and returns the bot's own profile.
func (c *Client) Account(ctx context.Context) (*Player, error) {
	var p Player
	if err := c.send(ctx, call{method: fasthttp.MethodGet, path: "/api/account", out: &p, idempotent: true}); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) AcceptChallenge(ctx context.Context, id string) error {
	return c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/challenge/" + id + "/accept", idempotent: true})
}

func (c *Client) DeclineChallenge(ctx context.Context, id, reason string) error {
	return c.send(ctx, call{
		method:     fasthttp.MethodPost,
		path:       "/api/challenge/" + id + "/decline",
		body:       map[string]string{"reason": reason},
		idempotent: true,
	})
}

// Move submits one move in UCI form. A definitive platform refusal is
// reported as ErrMoveRejected; transport failures are returned as-is and
// the move may or may not have landed.
func (c *Client) Move(ctx context.Context, gameID, move string) error {
	err := c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/bot/game/" + gameID + "/move/" + move})
	var apiErr *apiError
	if errors.As(err, &apiErr) && (apiErr.status == fasthttp.StatusBadRequest || apiErr.status == fasthttp.StatusNotFound) {
		return fmt.Errorf("%w: %s", ErrMoveRejected, apiErr.body)
	}
	return err
}

func (c *Client) Chat(ctx context.Context, gameID, text string) error {
	return c.send(ctx, call{
		method:     fasthttp.MethodPost,
		path:       "/api/bot/game/" + gameID + "/chat",
		body:       map[string]string{"text": text},
		idempotent: true,
	})
}

func (c *Client) Resign(ctx context.Context, gameID string) error {
	return c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/bot/game/" + gameID + "/resign"})
}

func (c *Client) Abort(ctx context.Context, gameID string) error {
	return c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/bot/game/" + gameID + "/abort"})
}

func (c *Client) PostSeek(ctx context.Context, seek Seek) error {
	return c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/challenge/open", body: seek, idempotent: true})
}

func (c *Client) UpcomingTournaments(ctx context.Context) ([]Tournament, error) {
	var ts []Tournament
	if err := c.send(ctx, call{method: fasthttp.MethodGet, path: "/api/tournament/upcoming", out: &ts, idempotent: true}); err != nil {
		return nil, err
	}
	return ts, nil
}

func (c *Client) JoinTournament(ctx context.Context, id string) error {
	return c.send(ctx, call{method: fasthttp.MethodPost, path: "/api/tournament/" + id + "/join", idempotent: true})
}

// call names one REST operation. Only idempotent calls may be resent
// after a transient failure; a move must never be submitted twice.
type call struct {
	method     string
	path       string
	body       any
	out        any
	idempotent bool
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("arena: http %d: %s", e.status, e.body)
}

func (c *Client) send(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", cl.path, err)
		}
		payload = b
	}

	tries := 1
	if cl.idempotent && c.retryMax > 1 {
		tries = c.retryMax
	}

	for i := 1; ; i++ {
		respBody, err := c.roundTrip(ctx, cl.method, cl.path, payload)
		if err == nil {
			if cl.out == nil {
				return nil
			}
			if uerr := json.Unmarshal(respBody, cl.out); uerr != nil {
				return fmt.Errorf("decode %s: %w", cl.path, uerr)
			}
			return nil
		}
		if i >= tries || !retryable(err) {
			return err
		}
		if werr := pause(ctx, c.retryWait(err, i)); werr != nil {
			return err
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.SetBodyRaw(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.callDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("arena: %s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < fasthttp.StatusOK || status >= fasthttp.StatusMultipleChoices {
		return nil, &apiError{status: status, body: clip(string(resp.Body()), errBodyLimit)}
	}
	return append([]byte(nil), resp.Body()...), nil
}

// callDeadline bounds each attempt by the client timeout or the caller's
// context deadline, whichever lands first.
func (c *Client) callDeadline(ctx context.Context) time.Time {
	limit := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(limit) {
		return dl
	}
	return limit
}

func (c *Client) retryWait(err error, attempt int) time.Duration {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.status == fasthttp.StatusTooManyRequests {
		return c.rateLimitWait
	}
	return retryDelay(attempt)
}

// retryable treats transport failures and throttling or server-side
// statuses as transient. Client errors are definitive.
func retryable(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.status {
	case fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryDelay(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt && d < retryCeil; i++ {
		d *= 2
	}
	if d > retryCeil {
		d = retryCeil
	}
	return d
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary so the cut never splits a character
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
