package arena

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stream item kinds.
const (
	EventChallenge         = "challenge"
	EventChallengeDeclined = "challengeDeclined"
	EventGameStart         = "gameStart"
	EventGameFinish        = "gameFinish"
	EventGameFull          = "gameFull"
	EventGameState         = "gameState"
)

// Decline reason codes the platform accepts.
const (
	DeclineVariant       = "variantNotSupported"
	DeclineSpeed         = "speedNotSupported"
	DeclineCasualOnly    = "casualOnly"
	DeclineDailyBotLimit = "dailyBotLimitReached"
	DeclineLater         = "later"
)

// Game statuses. Everything past "started" ends the game.
const (
	StatusCreated    = "created"
	StatusStarted    = "started"
	StatusMate       = "mate"
	StatusResign     = "resign"
	StatusStalemate  = "stalemate"
	StatusTimeout    = "timeout"
	StatusOutOfTime  = "outoftime"
	StatusDraw       = "draw"
	StatusAborted    = "aborted"
	StatusCheat      = "cheat"
	StatusVariantEnd = "variantEnd"
)

var terminalStatuses = map[string]bool{
	StatusMate:       true,
	StatusResign:     true,
	StatusStalemate:  true,
	StatusTimeout:    true,
	StatusOutOfTime:  true,
	StatusDraw:       true,
	StatusAborted:    true,
	StatusCheat:      true,
	StatusVariantEnd: true,
}

func IsTerminalStatus(status string) bool { return terminalStatuses[status] }

var ErrMalformedEvent = errors.New("arena: malformed event")

type Player struct {
	Name   string `json:"name"`
	Bot    bool   `json:"bot"`
	Rating int    `json:"rating,omitempty"`
}

// TimeControl is the base clock plus per-move increment, in seconds.
type TimeControl struct {
	Limit     int `json:"limit"`
	Increment int `json:"increment"`
}

// SpeedOf classifies a time control the way the platform does: estimated
// game duration is the base clock plus forty increments.
func SpeedOf(tc TimeControl) string {
	if tc.Limit <= 0 && tc.Increment <= 0 {
		return "correspondence"
	}
	total := tc.Limit + 40*tc.Increment
	switch {
	case total < 30:
		return "ultrabullet"
	case total < 180:
		return "bullet"
	case total < 480:
		return "blitz"
	case total < 1500:
		return "rapid"
	default:
		return "classical"
	}
}

type Challenge struct {
	ID          string      `json:"id"`
	Challenger  Player      `json:"challenger"`
	Variant     string      `json:"variant"`
	Speed       string      `json:"speed"`
	Rated       bool        `json:"rated"`
	TimeControl TimeControl `json:"timeControl"`
}

type GameRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Winner string `json:"winner,omitempty"`
}

// BoardState is the live position of one game: the applied moves from the
// starting position plus both clocks in milliseconds.
type BoardState struct {
	Moves       string `json:"moves"`
	WhiteTimeMS int64  `json:"wtime"`
	BlackTimeMS int64  `json:"btime"`
	WhiteIncMS  int64  `json:"winc"`
	BlackIncMS  int64  `json:"binc"`
	Status      string `json:"status"`
	Winner      string `json:"winner,omitempty"`
}

// GameFull is the first board item a game's stream delivers.
type GameFull struct {
	GameID     string     `json:"gameId"`
	White      Player     `json:"white"`
	Black      Player     `json:"black"`
	Variant    string     `json:"variant"`
	Speed      string     `json:"speed"`
	Rated      bool       `json:"rated"`
	InitialFEN string     `json:"initialFen,omitempty"`
	State      BoardState `json:"state"`
}

// Event is one decoded stream item. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type      string
	Challenge *Challenge
	Game      *GameRef
	GameID    string
	Full      *GameFull
	State     *BoardState
}

// IsBoardEvent reports whether the item belongs to one game's session
// rather than to the global dispatcher.
func (e Event) IsBoardEvent() bool {
	return e.Type == EventGameFull || e.Type == EventGameState
}

// DecodeEvent parses one stream frame. Unknown kinds and frames missing
// their identifying fields return ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type      string          `json:"type"`
		GameID    string          `json:"gameId"`
		Challenge json.RawMessage `json:"challenge"`
		Game      json.RawMessage `json:"game"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventChallenge, EventChallengeDeclined:
		var c Challenge
		if env.Challenge == nil {
			return Event{}, fmt.Errorf("%w: %s without challenge", ErrMalformedEvent, env.Type)
		}
		if err := json.Unmarshal(env.Challenge, &c); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if c.ID == "" {
			return Event{}, fmt.Errorf("%w: challenge without id", ErrMalformedEvent)
		}
		if c.Speed == "" {
			c.Speed = SpeedOf(c.TimeControl)
		}
		return Event{Type: env.Type, Challenge: &c}, nil

	case EventGameStart, EventGameFinish:
		var g GameRef
		if env.Game == nil {
			return Event{}, fmt.Errorf("%w: %s without game", ErrMalformedEvent, env.Type)
		}
		if err := json.Unmarshal(env.Game, &g); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if g.ID == "" {
			return Event{}, fmt.Errorf("%w: game without id", ErrMalformedEvent)
		}
		return Event{Type: env.Type, Game: &g}, nil

	case EventGameFull:
		var full GameFull
		if err := json.Unmarshal(data, &full); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if full.GameID == "" {
			return Event{}, fmt.Errorf("%w: gameFull without gameId", ErrMalformedEvent)
		}
		return Event{Type: env.Type, GameID: full.GameID, Full: &full}, nil

	case EventGameState:
		var st BoardState
		if err := json.Unmarshal(data, &st); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if env.GameID == "" {
			return Event{}, fmt.Errorf("%w: gameState without gameId", ErrMalformedEvent)
		}
		return Event{Type: env.Type, GameID: env.GameID, State: &st}, nil

	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}
}

// Tournament is one joinable upcoming event.
type Tournament struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Speed    string `json:"speed"`
	Rated    bool   `json:"rated"`
	StartsAt int64  `json:"startsAt"`
}

// Seek is an open challenge posted when idle.
type Seek struct {
	Rated       bool        `json:"rated"`
	TimeControl TimeControl `json:"timeControl"`
	Variant     string      `json:"variant"`
}
