package stats

import (
	"strings"
	"testing"
	"time"
)

func TestMapResultToPGN(t *testing.T) {
	if got := mapResultToPGN("white", "mate"); got != "1-0" {
		t.Fatalf("white = %q", got)
	}
	if got := mapResultToPGN("black", "resign"); got != "0-1" {
		t.Fatalf("black = %q", got)
	}
	if got := mapResultToPGN("", "draw"); got != "1/2-1/2" {
		t.Fatalf("draw = %q", got)
	}
	if got := mapResultToPGN("", "stalemate"); got != "1/2-1/2" {
		t.Fatalf("stalemate = %q", got)
	}
	if got := mapResultToPGN("", "aborted"); got != "*" {
		t.Fatalf("aborted = %q", got)
	}
}

func TestBuildPGN(t *testing.T) {
	rec := &GameRecord{
		GameID:      "g1",
		White:       `Eval "Bot"`,
		Black:       "squire",
		WinnerColor: "black",
		Method:      "mate",
		Speed:       "blitz",
		TimeControl: "300+5",
		ECO:         "C20",
		Opening:     "King's Pawn Game: Wayward Queen Attack",
		MovesSAN:    []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"},
		EndedAt:     time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(rec, mapResultToPGN(rec.WinnerColor, rec.Method))

	for _, want := range []string{
		`[Event "Casual blitz game"]`,
		`[GameId "g1"]`,
		`[White "Eval 'Bot'"]`,
		`[Black "squire"]`,
		`[Date "2024.03.01"]`,
		`[TimeControl "300+5"]`,
		`[ECO "C20"]`,
		`[Opening "King's Pawn Game: Wayward Queen Attack"]`,
		`[Termination "mate"]`,
		`[Result "0-1"]`,
		"1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGNSkipsEmptyTags(t *testing.T) {
	rec := &GameRecord{
		GameID:      "g2",
		White:       "squire",
		Black:       "rival",
		Rated:       true,
		WinnerColor: "white",
		Method:      "resign",
		MovesSAN:    []string{"d4"},
		EndedAt:     time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(rec, "1-0")

	if !strings.Contains(pgn, `[Event "Rated game"]`) {
		t.Fatalf("pgn event tag wrong:\n%s", pgn)
	}
	for _, banned := range []string{"[ECO", "[Opening", "[TimeControl"} {
		if strings.Contains(pgn, banned) {
			t.Fatalf("pgn has %s tag for empty field:\n%s", banned, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "1. d4 1-0") {
		t.Fatalf("pgn movetext wrong:\n%s", pgn)
	}
}
