package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/squirebot/squire/internal/obslog"
)

const streamPath = "/api/bot/stream"

type StreamOptions struct {
	MaxAttempts  int // consecutive reconnect attempts before giving up
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	DialTimeout  time.Duration
	PingInterval time.Duration
	OnConnect    func() // called after every successful dial
}

func (o *StreamOptions) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// Stream consumes the platform's bot event stream over one websocket,
// reconnecting with bounded exponential backoff. Decoded items come out of
// Events in the order the platform emitted them.
type Stream struct {
	url    string
	token  string
	opts   StreamOptions
	events chan Event
}

func NewStream(wsURL, token string, opts StreamOptions) *Stream {
	opts.setDefaults()
	return &Stream{
		url:    wsURL + streamPath,
		token:  token,
		opts:   opts,
		events: make(chan Event, 256),
	}
}

// Events is closed when Run returns.
func (s *Stream) Events() <-chan Event { return s.events }

// Run blocks until ctx is cancelled (returns nil) or the reconnect budget
// is exhausted (returns the last connection error).
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	attempt := 0
	for {
		conn, err := s.dial(ctx)
		if err == nil {
			attempt = 0
			obslog.L().Info("stream_connected", zap.String("url", s.url))
			if s.opts.OnConnect != nil {
				s.opts.OnConnect()
			}
			err = s.consume(ctx, conn)
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		if attempt > s.opts.MaxAttempts {
			return fmt.Errorf("stream: reconnect attempts exhausted: %w", err)
		}
		wait := s.backoff(attempt)
		obslog.L().Warn("stream_reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+s.token)
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      hdr,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return err
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			obslog.L().Warn("stream_malformed_event",
				zap.Error(err),
				zap.String("frame", clip(string(raw), 256)))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					// Forces the blocked read to error out and reconnect.
					_ = conn.Close(websocket.StatusGoingAway, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Stream) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.opts.BaseDelay << uint(attempt-1)
	if d > s.opts.MaxDelay || d <= 0 {
		return s.opts.MaxDelay
	}
	return d
}
