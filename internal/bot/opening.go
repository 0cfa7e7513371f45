package bot

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// classifyOpening names the deepest book line the game followed. Only
// meaningful for games from the standard starting position; the caller
// guards that.
func classifyOpening(game *nchess.Game) (code, title string) {
	if game == nil {
		return "", ""
	}
	ecoOnce.Do(func() {
		ecoBook = opening.NewBookECO()
	})
	if eco := ecoBook.Find(game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
