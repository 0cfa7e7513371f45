// Package stats keeps the bounded record of completed games.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Result string

const (
	ResultWin     Result = "win"
	ResultLoss    Result = "loss"
	ResultDraw    Result = "draw"
	ResultAborted Result = "aborted"
)

type Entry struct {
	GameID      string    `json:"game_id"`
	Opponent    string    `json:"opponent"`
	OpponentBot bool      `json:"opponent_bot"`
	Result      Result    `json:"result"`
	Color       string    `json:"color"`
	Speed       string    `json:"speed"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Store persists the full ledger snapshot.
type Store interface {
	Save(ctx context.Context, entries []Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// Ledger holds the most recent entries up to a fixed cap, oldest evicted
// first. Every append is pushed through the store before Record returns.
type Ledger struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
	store   Store
}

func NewLedger(capacity int, store Store) *Ledger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ledger{cap: capacity, store: store}
}

// Hydrate replaces the in-memory ledger with the persisted one, trimming
// to cap if the stored snapshot is larger.
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	if len(entries) > l.cap {
		entries = entries[len(entries)-l.cap:]
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Record appends and persists. The entry stays in memory even when the
// store write fails, so the caller can log and move on.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persist stats: %w", err)
	}
	return nil
}

func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// BotGamesOn counts games against bot opponents started on the given
// local calendar day. Seeds the daily limit counter across restarts.
func (l *Ledger) BotGamesOn(day time.Time) int {
	y, m, d := day.Date()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if !e.OpponentBot {
			continue
		}
		ey, em, ed := e.StartedAt.Local().Date()
		if ey == y && em == m && ed == d {
			n++
		}
	}
	return n
}
