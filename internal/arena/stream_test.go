package arena

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamDeliversEventsThenExhaustsReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != streamPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if conns.Add(1) > 1 {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		frames := []string{
			`{"type":"challenge","challenge":{"id":"ch1","challenger":{"name":"x"},"variant":"standard","speed":"blitz","timeControl":{"limit":300,"increment":5}}}`,
			`{"type":"mystery"}`,
			`{"type":"gameState","gameId":"g1","moves":"e2e4","wtime":1000,"btime":1000,"winc":0,"binc":0,"status":"started"}`,
		}
		for _, f := range frames {
			if err := wsjson.Write(ctx, c, json.RawMessage(f)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer srv.Close()

	var connects atomic.Int32
	s := NewStream(wsURL(srv), "tok", StreamOptions{
		MaxAttempts: 2,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		DialTimeout: 2 * time.Second,
		OnConnect:   func() { connects.Add(1) },
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 (malformed frame skipped)", len(got))
	}
	if got[0].Type != EventChallenge || got[1].Type != EventGameState {
		t.Fatalf("event order = %q, %q", got[0].Type, got[1].Type)
	}

	select {
	case err := <-runErr:
		if err == nil {
			t.Fatal("expected reconnect-exhausted error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if conns.Load() < 3 {
		t.Fatalf("connection attempts = %d, want initial plus 2 retries", conns.Load())
	}
	if connects.Load() != 1 {
		t.Fatalf("OnConnect fired %d times, want once", connects.Load())
	}
}

func TestStreamStopsCleanlyOnCancel(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "bye")
		if err := wsjson.Write(r.Context(), c, json.RawMessage(`{"type":"gameStart","game":{"id":"g1"}}`)); err != nil {
			return
		}
		select {
		case <-stop:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(wsURL(srv), "tok", StreamOptions{BaseDelay: 5 * time.Millisecond})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	select {
	case ev := <-s.Events():
		if ev.Type != EventGameStart {
			t.Fatalf("event = %q", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
