package stats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	saves   int
	entries []Entry
}

func (m *memStore) Save(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.entries = append([]Entry(nil), entries...)
	return nil
}

func (m *memStore) Load(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), nil
}

func entry(i int) Entry {
	return Entry{
		GameID:    fmt.Sprintf("g%04d", i),
		Opponent:  "opp",
		Result:    ResultWin,
		Color:     "white",
		Speed:     "blitz",
		StartedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local).Add(time.Duration(i) * time.Minute),
		EndedAt:   time.Date(2024, 3, 1, 12, 5, 0, 0, time.Local).Add(time.Duration(i) * time.Minute),
	}
}

func TestLedgerEvictsOldestBeyondCap(t *testing.T) {
	store := &memStore{}
	l := NewLedger(1000, store)
	ctx := context.Background()

	for i := 0; i < 1001; i++ {
		if err := l.Record(ctx, entry(i)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	if l.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", l.Len())
	}
	snap := l.Snapshot()
	if snap[0].GameID != "g0001" {
		t.Fatalf("oldest retained = %s, want g0001 (g0000 evicted)", snap[0].GameID)
	}
	if snap[len(snap)-1].GameID != "g1000" {
		t.Fatalf("newest = %s, want g1000", snap[len(snap)-1].GameID)
	}
	if store.saves != 1001 {
		t.Fatalf("saves = %d, want one per append", store.saves)
	}
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	l := NewLedger(10, nil)
	_ = l.Record(context.Background(), entry(1))

	snap := l.Snapshot()
	snap[0].GameID = "mutated"
	if l.Snapshot()[0].GameID != "g0001" {
		t.Fatal("snapshot mutation leaked into the ledger")
	}
}

func TestLedgerHydrateTrimsToCap(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 8; i++ {
		store.entries = append(store.entries, entry(i))
	}
	l := NewLedger(5, store)
	if err := l.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if l.Len() != 5 {
		t.Fatalf("len = %d, want 5", l.Len())
	}
	if l.Snapshot()[0].GameID != "g0003" {
		t.Fatalf("oldest = %s, want g0003", l.Snapshot()[0].GameID)
	}
}

func TestLedgerBotGamesOn(t *testing.T) {
	l := NewLedger(100, nil)
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)

	e := entry(0)
	e.OpponentBot = true
	_ = l.Record(ctx, e)

	e = entry(1)
	e.OpponentBot = true
	e.StartedAt = day.AddDate(0, 0, -1) // yesterday
	_ = l.Record(ctx, e)

	e = entry(2) // human game today
	_ = l.Record(ctx, e)

	if got := l.BotGamesOn(day); got != 1 {
		t.Fatalf("bot games = %d, want 1", got)
	}
}
