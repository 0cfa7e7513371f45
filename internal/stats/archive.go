package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Archive writes finished games to postgres with their PGN. Optional:
// games are only archived when a database URL is configured.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// GameRecord is one finished game with enough detail to rebuild its PGN.
type GameRecord struct {
	GameID      string
	White       string
	Black       string
	WinnerColor string // "white", "black" or "" for a draw/abort
	Method      string // terminal status, e.g. mate, resign, outoftime
	Speed       string
	Rated       bool
	TimeControl string // "300+5"
	ECO         string // deepest matched book line, when the game left theory
	Opening     string
	MovesUCI    []string
	MovesSAN    []string
	StartedAt   time.Time
	EndedAt     time.Time
}

func (a *Archive) SaveGame(ctx context.Context, rec *GameRecord) error {
	if a == nil || a.db == nil || rec == nil {
		return nil
	}

	pgnResult := mapResultToPGN(rec.WinnerColor, rec.Method)
	pgn := buildPGN(rec, pgnResult)
	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    game_id, white_name, black_name, speed, rated, time_control,
	    winner, method, eco, opening, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    white_name=EXCLUDED.white_name,
	    black_name=EXCLUDED.black_name,
	    speed=EXCLUDED.speed,
	    rated=EXCLUDED.rated,
	    time_control=EXCLUDED.time_control,
	    winner=EXCLUDED.winner,
	    method=EXCLUDED.method,
	    eco=EXCLUDED.eco,
	    opening=EXCLUDED.opening,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := a.db.ExecContext(ctx, q,
		rec.GameID,
		rec.White, rec.Black,
		rec.Speed, rec.Rated, rec.TimeControl,
		rec.WinnerColor, strings.TrimSpace(rec.Method),
		rec.ECO, rec.Opening,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}

func mapResultToPGN(winnerColor, method string) string {
	switch strings.ToLower(strings.TrimSpace(winnerColor)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	}
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "draw", "stalemate":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(rec *GameRecord, pgnResult string) string {
	if rec == nil {
		return ""
	}
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	tag := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		b.WriteString(fmt.Sprintf("[%s \"%s\"]\n", name, sanitizePGN(value)))
	}

	tag("Event", eventName(rec.Rated, rec.Speed))
	tag("GameId", rec.GameID)
	tag("Date", fmt.Sprintf("%04d.%02d.%02d", date.Year(), int(date.Month()), date.Day()))
	tag("White", rec.White)
	tag("Black", rec.Black)
	tag("TimeControl", rec.TimeControl)
	tag("ECO", rec.ECO)
	tag("Opening", rec.Opening)
	tag("Termination", strings.ToLower(rec.Method))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	tokens := make([]string, 0, len(rec.MovesSAN)+len(rec.MovesSAN)/2+1)
	for i, san := range rec.MovesSAN {
		if i%2 == 0 {
			tokens = append(tokens, fmt.Sprintf("%d.", i/2+1))
		}
		tokens = append(tokens, strings.TrimSpace(san))
	}
	tokens = append(tokens, pgnResult)
	b.WriteString(strings.Join(tokens, " "))
	return b.String()
}

func eventName(rated bool, speed string) string {
	kind := "Casual"
	if rated {
		kind = "Rated"
	}
	speed = strings.TrimSpace(speed)
	if speed == "" {
		return kind + " game"
	}
	return fmt.Sprintf("%s %s game", kind, speed)
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
