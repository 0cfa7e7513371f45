package bot

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// buildGame replays a platform move list onto a fresh board. The move list
// is the authoritative game history, so every board item rebuilds from the
// start rather than patching the previous position.
func buildGame(fen, moveList string) (*nchess.Game, []string, error) {
	var game *nchess.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = nchess.NewGame()
	} else {
		option, err := nchess.FEN(fen)
		if err != nil {
			return nil, nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = nchess.NewGame(option)
	}

	moves := strings.Fields(moveList)
	for i, mv := range moves {
		mv = strings.ToLower(mv)
		move, err := nchess.UCINotation{}.Decode(game.Position(), mv)
		if err != nil {
			return nil, nil, fmt.Errorf("decode move %d (%s): %w", i+1, mv, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, nil, fmt.Errorf("apply move %d (%s): %w", i+1, mv, err)
		}
		moves[i] = mv
	}
	return game, moves, nil
}
