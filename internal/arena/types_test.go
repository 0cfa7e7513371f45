package arena

import (
	"errors"
	"testing"
)

func TestDecodeEventChallenge(t *testing.T) {
	frame := `{"type":"challenge","challenge":{"id":"ch1","challenger":{"name":"Rook","bot":true,"rating":2100},
		"variant":"standard","speed":"blitz","rated":false,"timeControl":{"limit":300,"increment":5}}}`
	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventChallenge {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.Challenge == nil || ev.Challenge.ID != "ch1" {
		t.Fatalf("challenge = %+v", ev.Challenge)
	}
	if !ev.Challenge.Challenger.Bot || ev.Challenge.Challenger.Name != "Rook" {
		t.Fatalf("challenger = %+v", ev.Challenge.Challenger)
	}
	if ev.IsBoardEvent() {
		t.Fatal("challenge must not be a board event")
	}

	declined := `{"type":"challengeDeclined","challenge":{"id":"ch1"}}`
	ev, err = DecodeEvent([]byte(declined))
	if err != nil {
		t.Fatalf("decode declined: %v", err)
	}
	if ev.Type != EventChallengeDeclined || ev.Challenge.ID != "ch1" {
		t.Fatalf("declined = %+v", ev)
	}
}

func TestDecodeEventFillsSpeedFromClock(t *testing.T) {
	frame := `{"type":"challenge","challenge":{"id":"ch2","challenger":{"name":"x"},
		"variant":"standard","rated":true,"timeControl":{"limit":60,"increment":1}}}`
	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Challenge.Speed != "bullet" {
		t.Fatalf("speed = %q, want derived bullet", ev.Challenge.Speed)
	}
}

func TestDecodeEventGameLifecycle(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"gameStart","game":{"id":"g1"}}`))
	if err != nil {
		t.Fatalf("gameStart: %v", err)
	}
	if ev.Game == nil || ev.Game.ID != "g1" {
		t.Fatalf("game = %+v", ev.Game)
	}

	ev, err = DecodeEvent([]byte(`{"type":"gameFinish","game":{"id":"g1","status":"mate","winner":"black"}}`))
	if err != nil {
		t.Fatalf("gameFinish: %v", err)
	}
	if ev.Game.Status != StatusMate || ev.Game.Winner != "black" {
		t.Fatalf("game = %+v", ev.Game)
	}
}

func TestDecodeEventBoardItems(t *testing.T) {
	full := `{"type":"gameFull","gameId":"g7","white":{"name":"squire"},"black":{"name":"Rook","bot":true},
		"speed":"blitz","rated":false,"state":{"moves":"","wtime":300000,"btime":300000,"winc":5000,"binc":5000,"status":"started"}}`
	ev, err := DecodeEvent([]byte(full))
	if err != nil {
		t.Fatalf("gameFull: %v", err)
	}
	if !ev.IsBoardEvent() || ev.GameID != "g7" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Full.White.Name != "squire" || ev.Full.State.WhiteTimeMS != 300000 {
		t.Fatalf("full = %+v", ev.Full)
	}

	state := `{"type":"gameState","gameId":"g7","moves":"e2e4 e7e5","wtime":298000,"btime":300000,
		"winc":5000,"binc":5000,"status":"started"}`
	ev, err = DecodeEvent([]byte(state))
	if err != nil {
		t.Fatalf("gameState: %v", err)
	}
	if ev.State == nil || ev.State.Moves != "e2e4 e7e5" {
		t.Fatalf("state = %+v", ev.State)
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	frames := []string{
		`not json`,
		`{"type":"mystery"}`,
		`{"type":"challenge"}`,
		`{"type":"challenge","challenge":{"rated":true}}`,
		`{"type":"gameStart"}`,
		`{"type":"gameState","moves":"e2e4"}`,
	}
	for _, frame := range frames {
		if _, err := DecodeEvent([]byte(frame)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("frame %s: err = %v, want ErrMalformedEvent", frame, err)
		}
	}
}

func TestSpeedOf(t *testing.T) {
	if got := SpeedOf(TimeControl{Limit: 60, Increment: 0}); got != "bullet" {
		t.Fatalf("60+0 = %q", got)
	}
	if got := SpeedOf(TimeControl{Limit: 300, Increment: 3}); got != "blitz" {
		t.Fatalf("300+3 = %q", got)
	}
	if got := SpeedOf(TimeControl{Limit: 900, Increment: 10}); got != "rapid" {
		t.Fatalf("900+10 = %q", got)
	}
	if got := SpeedOf(TimeControl{Limit: 1800, Increment: 20}); got != "classical" {
		t.Fatalf("1800+20 = %q", got)
	}
	if got := SpeedOf(TimeControl{}); got != "correspondence" {
		t.Fatalf("no clock = %q", got)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{StatusMate, StatusResign, StatusTimeout, StatusOutOfTime, StatusDraw, StatusAborted, StatusStalemate, StatusCheat, StatusVariantEnd} {
		if !IsTerminalStatus(s) {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if IsTerminalStatus(StatusStarted) || IsTerminalStatus(StatusCreated) || IsTerminalStatus("") {
		t.Fatal("non-terminal status misclassified")
	}
}
