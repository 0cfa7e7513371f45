package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/squirebot/squire/internal/arena"
	"github.com/squirebot/squire/internal/obslog"
	"github.com/squirebot/squire/internal/stats"
	"github.com/squirebot/squire/internal/uci"
)

// State labels the lifecycle phase of one game session.
type State string

const (
	StateAwaitingTurn State = "AWAITING_TURN"
	StateComputing    State = "COMPUTING"
	StateSubmitting   State = "SUBMITTING"
	StateFinished     State = "FINISHED"
)

const (
	inboxSize          = 128
	moveAttempts       = 2
	submitRetryDelay   = 500 * time.Millisecond
	chatTimeout        = 5 * time.Second
	finishGraceTimeout = 5 * time.Second
)

// errGameOver marks a move cycle cut short because the game reached a
// terminal state while the engine was still thinking.
var errGameOver = errors.New("game already decided")

// gameClient is the slice of the platform API a running session needs.
type gameClient interface {
	Move(ctx context.Context, gameID, move string) error
	Chat(ctx context.Context, gameID, text string) error
	Resign(ctx context.Context, gameID string) error
	Abort(ctx context.Context, gameID string) error
}

// engineChannel is the session-facing surface of one dedicated engine process.
type engineChannel interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
	Close() error
}

// SessionConfig carries the per-game knobs a session plays with.
type SessionConfig struct {
	BotName    string
	Greeting   string
	Depth      int
	MinThink   time.Duration
	MaxThink   time.Duration
	GameLogDir string
}

// Session drives a single game from gameStart to a terminal state. All game
// state belongs to the Run goroutine; the manager only touches the inbox.
type Session struct {
	id     string
	cfg    SessionConfig
	client gameClient
	engine engineChannel

	inbox    chan arena.Event
	done     chan struct{}
	deferred []arena.Event

	log          *zap.Logger
	closeGameLog func()

	state      State
	game       *nchess.Game
	moves      []string
	initialFEN string
	myColor    nchess.Color
	colorKnown bool
	white      arena.Player
	black      arena.Player
	opponent   arena.Player
	speed      string
	rated      bool
	tcLimitSec int
	tcIncSec   int
	startedAt  time.Time

	whiteLeft time.Duration
	blackLeft time.Duration
	whiteInc  time.Duration
	blackInc  time.Duration

	finishOnce sync.Once
	onFinish   func(stats.Entry, *stats.GameRecord)
}

func newSession(gameID string, client gameClient, engine engineChannel, cfg SessionConfig, onFinish func(stats.Entry, *stats.GameRecord)) *Session {
	return &Session{
		id:        gameID,
		cfg:       cfg,
		client:    client,
		engine:    engine,
		inbox:     make(chan arena.Event, inboxSize),
		done:      make(chan struct{}),
		log:       obslog.L().With(zap.String("game_id", gameID)),
		state:     StateAwaitingTurn,
		game:      nchess.NewGame(),
		startedAt: time.Now(),
		onFinish:  onFinish,
	}
}

// Deliver hands a routed stream item to the session. It returns false once
// the session has finished.
func (s *Session) Deliver(ev arena.Event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Run consumes board items until the game reaches a terminal state or ctx
// is cancelled. The retire callback fires exactly once before Run returns.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if s.closeGameLog != nil {
			s.closeGameLog()
		}
	}()

	s.log.Info("session_started")
	for {
		// items set aside while a move was being computed go first
		if len(s.deferred) > 0 {
			ev := s.deferred[0]
			s.deferred = s.deferred[1:]
			s.handle(ctx, ev)
			if s.state == StateFinished {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case ev := <-s.inbox:
			s.handle(ctx, ev)
			if s.state == StateFinished {
				return
			}
		}
	}
}

// shutdown is the cancellation path: tell the platform we are leaving, then
// record the game as aborted.
func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Abort(ctx, s.id); err != nil {
		s.log.Debug("shutdown_abort_failed", zap.Error(err))
	}
	s.finish(arena.StatusAborted, "")
}

func (s *Session) handle(ctx context.Context, ev arena.Event) {
	switch ev.Type {
	case arena.EventGameFull:
		if ev.Full == nil {
			s.log.Warn("event_missing_payload", zap.String("type", ev.Type))
			return
		}
		s.setup(ctx, ev.Full)
	case arena.EventGameState:
		if ev.State == nil {
			s.log.Warn("event_missing_payload", zap.String("type", ev.Type))
			return
		}
		s.applyState(ctx, ev.State)
	case arena.EventGameFinish:
		status, winner, _ := terminalIn(ev)
		s.finish(status, winner)
	default:
		s.log.Debug("event_ignored", zap.String("type", ev.Type))
	}
}

func (s *Session) setup(ctx context.Context, full *arena.GameFull) {
	if s.colorKnown {
		// resent after a stream reconnect, just resync the board
		s.applyState(ctx, &full.State)
		return
	}

	switch {
	case strings.EqualFold(full.White.Name, s.cfg.BotName):
		s.myColor = nchess.White
		s.opponent = full.Black
	case strings.EqualFold(full.Black.Name, s.cfg.BotName):
		s.myColor = nchess.Black
		s.opponent = full.White
	default:
		s.abortGame("bot is not a player in this game", nil)
		return
	}
	s.colorKnown = true
	s.white = full.White
	s.black = full.Black
	s.speed = full.Speed
	s.rated = full.Rated
	s.initialFEN = full.InitialFEN
	if s.initialFEN == "startpos" {
		s.initialFEN = ""
	}
	s.tcLimitSec = int(full.State.WhiteTimeMS / 1000)
	s.tcIncSec = int(full.State.WhiteIncMS / 1000)

	if s.cfg.GameLogDir != "" {
		gameLog, closeLog, err := obslog.Game(s.cfg.GameLogDir, s.opponent.Name, s.id)
		if err != nil {
			s.log.Warn("game_log_failed", zap.Error(err))
		} else {
			s.log = gameLog
			s.closeGameLog = closeLog
			if el, ok := s.engine.(interface{ SetLogger(*zap.Logger) }); ok {
				el.SetLogger(s.log)
			}
		}
	}

	s.log.Info("game_started",
		zap.String("opponent", s.opponent.Name),
		zap.Bool("opponent_bot", s.opponent.Bot),
		zap.String("color", s.colorString()),
		zap.String("speed", s.speed),
		zap.Bool("rated", s.rated))

	if s.cfg.Greeting != "" {
		chatCtx, cancel := context.WithTimeout(ctx, chatTimeout)
		if err := s.client.Chat(chatCtx, s.id, s.cfg.Greeting); err != nil {
			s.log.Debug("greeting_failed", zap.Error(err))
		}
		cancel()
	}

	s.applyState(ctx, &full.State)
}

func (s *Session) applyState(ctx context.Context, st *arena.BoardState) {
	s.whiteLeft = time.Duration(st.WhiteTimeMS) * time.Millisecond
	s.blackLeft = time.Duration(st.BlackTimeMS) * time.Millisecond
	s.whiteInc = time.Duration(st.WhiteIncMS) * time.Millisecond
	s.blackInc = time.Duration(st.BlackIncMS) * time.Millisecond

	if arena.IsTerminalStatus(st.Status) {
		s.finish(st.Status, st.Winner)
		return
	}

	game, moves, err := buildGame(s.initialFEN, st.Moves)
	if err != nil {
		s.abortGame("board rebuild failed", err)
		return
	}
	s.game = game
	s.moves = moves

	if !s.colorKnown {
		// board item arrived before the game description, wait for it
		s.setState(StateAwaitingTurn)
		return
	}
	if s.game.Outcome() != nchess.NoOutcome {
		// locally decided, the platform's terminal item settles the result
		s.setState(StateAwaitingTurn)
		return
	}
	if s.game.Position().Turn() != s.myColor {
		s.setState(StateAwaitingTurn)
		return
	}
	s.computeAndSubmit(ctx)
}

func (s *Session) computeAndSubmit(ctx context.Context) {
	s.setState(StateComputing)
	moveUCI, move, err := s.searchMove(ctx)
	if err != nil {
		s.bailOut(ctx, "engine failure", err)
		return
	}
	if status, winner, over := s.pendingTerminal(); over {
		s.finish(status, winner)
		return
	}

	s.setState(StateSubmitting)
	err = s.submit(ctx, moveUCI)
	if errors.Is(err, arena.ErrMoveRejected) {
		s.log.Warn("move_rejected", zap.String("move", moveUCI), zap.Error(err))
		moveUCI, move, err = s.searchMove(ctx)
		if err == nil {
			err = s.submit(ctx, moveUCI)
		}
	}
	if err != nil {
		s.bailOut(ctx, "move submission failed", err)
		return
	}

	if aerr := s.game.Move(move, nil); aerr != nil {
		// the platform took it, the next board item resyncs us
		s.log.Warn("local_apply_failed", zap.String("move", moveUCI), zap.Error(aerr))
	} else {
		s.moves = append(s.moves, moveUCI)
	}
	s.setState(StateAwaitingTurn)
}

// bailOut closes a failed move cycle: cancellation and an already-decided
// game are not errors, a queued terminal item settles the result, anything
// else abandons the game.
func (s *Session) bailOut(ctx context.Context, reason string, err error) {
	if ctx.Err() != nil || errors.Is(err, errGameOver) {
		return
	}
	if status, winner, over := s.pendingTerminal(); over {
		s.finish(status, winner)
		return
	}
	s.abortGame(reason, err)
}

// searchMove asks the engine for a move and checks it decodes against the
// current position. A failed search or an undecodable move gets one retry,
// the engine restarts itself after a timeout.
func (s *Session) searchMove(ctx context.Context) (string, *nchess.Move, error) {
	remaining, increment := s.clockFor(s.myColor)
	budget := thinkBudget(remaining, increment, s.cfg.MinThink, s.cfg.MaxThink)
	depth := depthFor(remaining, s.cfg.Depth)
	req := uci.SearchRequest{
		FEN:   s.initialFEN,
		Moves: s.moves,
		Limits: uci.Limits{
			Depth:          depth,
			MoveTimeMillis: int(budget / time.Millisecond),
		},
	}

	var lastErr error
	for attempt := 1; attempt <= moveAttempts; attempt++ {
		resp, err := s.searchInterruptible(ctx, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errGameOver) {
				return "", nil, err
			}
			lastErr = err
			s.log.Warn("engine_search_failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		move, derr := nchess.UCINotation{}.Decode(s.game.Position(), resp.BestMove)
		if derr != nil {
			lastErr = fmt.Errorf("engine move %q: %w", resp.BestMove, derr)
			s.log.Warn("engine_move_invalid",
				zap.Int("attempt", attempt),
				zap.String("move", resp.BestMove),
				zap.Error(derr))
			continue
		}
		s.log.Info("move_chosen",
			zap.String("move", resp.BestMove),
			zap.Int("depth", depth),
			zap.Duration("budget", budget),
			zap.Int("score_cp", resp.ScoreCP))
		return resp.BestMove, move, nil
	}
	return "", nil, lastErr
}

// searchInterruptible runs one engine search while still watching the
// inbox. A terminal item arriving mid-search finishes the session at once:
// the search context is cancelled and the engine answer never awaited.
// Other items are set aside for the Run loop to replay in order.
func (s *Session) searchInterruptible(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	type answer struct {
		resp uci.SearchResponse
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		resp, err := s.engine.Search(searchCtx, req)
		done <- answer{resp: resp, err: err}
	}()
	for {
		select {
		case out := <-done:
			return out.resp, out.err
		case ev := <-s.inbox:
			if status, winner, over := terminalIn(ev); over {
				cancel()
				s.log.Info("game_over_during_search", zap.String("status", status))
				s.finish(status, winner)
				return uci.SearchResponse{}, errGameOver
			}
			s.deferred = append(s.deferred, ev)
		}
	}
}

// pendingTerminal drains items already queued behind the computation and
// reports a terminal one, so a decided game never gets another move.
func (s *Session) pendingTerminal() (status, winner string, over bool) {
	for {
		select {
		case ev := <-s.inbox:
			if status, winner, over = terminalIn(ev); over {
				return status, winner, true
			}
			s.deferred = append(s.deferred, ev)
		default:
			return "", "", false
		}
	}
}

// terminalIn extracts the end of the game from a routed item, if present.
func terminalIn(ev arena.Event) (status, winner string, over bool) {
	switch ev.Type {
	case arena.EventGameFinish:
		status, winner = arena.StatusAborted, ""
		if ev.Game != nil {
			if ev.Game.Status != "" {
				status = ev.Game.Status
			}
			winner = ev.Game.Winner
		}
		return status, winner, true
	case arena.EventGameState:
		if ev.State != nil && arena.IsTerminalStatus(ev.State.Status) {
			return ev.State.Status, ev.State.Winner, true
		}
	case arena.EventGameFull:
		if ev.Full != nil && arena.IsTerminalStatus(ev.Full.State.Status) {
			return ev.Full.State.Status, ev.Full.State.Winner, true
		}
	}
	return "", "", false
}

// submit posts the move. A rejection comes straight back to the caller, a
// transport error gets one retry with the same move.
func (s *Session) submit(ctx context.Context, moveUCI string) error {
	err := s.client.Move(ctx, s.id, moveUCI)
	if err == nil || errors.Is(err, arena.ErrMoveRejected) {
		return err
	}
	s.log.Warn("move_submit_retry", zap.String("move", moveUCI), zap.Error(err))
	select {
	case <-time.After(submitRetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.client.Move(ctx, s.id, moveUCI)
}

// abortGame is the error exit: leave the game on the platform as cleanly as
// possible, then finish. Games short enough to abort are aborted, anything
// else is resigned.
func (s *Session) abortGame(reason string, err error) {
	s.log.Error("session_error", zap.String("reason", reason), zap.Error(err))
	ctx, cancel := context.WithTimeout(context.Background(), finishGraceTimeout)
	defer cancel()

	if len(s.moves) < 2 {
		if aerr := s.client.Abort(ctx, s.id); aerr == nil {
			s.finish(arena.StatusAborted, "")
			return
		}
	}
	if rerr := s.client.Resign(ctx, s.id); rerr != nil {
		s.log.Warn("resign_failed", zap.Error(rerr))
	}
	winner := ""
	if s.colorKnown {
		winner = colorName(opponentColor(s.myColor))
	}
	s.finish(arena.StatusResign, winner)
}

func (s *Session) finish(status, winner string) {
	s.finishOnce.Do(func() {
		s.setState(StateFinished)
		if err := s.engine.Close(); err != nil {
			s.log.Debug("engine_close_failed", zap.Error(err))
		}

		result := s.deriveResult(status, winner)
		entry := stats.Entry{
			GameID:      s.id,
			Opponent:    s.opponent.Name,
			OpponentBot: s.opponent.Bot,
			Result:      result,
			Color:       s.colorString(),
			Speed:       s.speed,
			StartedAt:   s.startedAt,
			EndedAt:     time.Now(),
		}
		rec := s.buildRecord(status, winner)

		s.log.Info("session_finished",
			zap.String("status", status),
			zap.String("winner", winner),
			zap.String("result", string(result)),
			zap.Int("moves", len(s.moves)))

		if s.onFinish != nil {
			s.onFinish(entry, rec)
		}
	})
}

func (s *Session) deriveResult(status, winner string) stats.Result {
	if status == arena.StatusAborted || status == arena.StatusCreated {
		return stats.ResultAborted
	}
	if !s.colorKnown {
		return stats.ResultAborted
	}
	if winner == "" {
		winner = s.localWinner()
	}
	switch winner {
	case colorName(s.myColor):
		return stats.ResultWin
	case colorName(opponentColor(s.myColor)):
		return stats.ResultLoss
	}
	switch status {
	case arena.StatusDraw, arena.StatusStalemate:
		return stats.ResultDraw
	}
	// decisive status with no winner from any source
	return stats.ResultAborted
}

// localWinner falls back to the replayed board when the platform omitted
// the winner on a decisive status.
func (s *Session) localWinner() string {
	switch s.game.Outcome() {
	case nchess.WhiteWon:
		return "white"
	case nchess.BlackWon:
		return "black"
	}
	return ""
}

// buildRecord assembles the archive row for a finished game. Games without
// a known color or without moves are not worth archiving.
func (s *Session) buildRecord(status, winner string) *stats.GameRecord {
	gameMoves := s.game.Moves()
	if !s.colorKnown || len(gameMoves) == 0 {
		return nil
	}
	positions := s.game.Positions()
	movesUCI := make([]string, 0, len(gameMoves))
	movesSAN := make([]string, 0, len(gameMoves))
	for i, mv := range gameMoves {
		movesUCI = append(movesUCI, mv.String())
		if i < len(positions) {
			movesSAN = append(movesSAN, nchess.AlgebraicNotation{}.Encode(positions[i], mv))
		}
	}
	rec := &stats.GameRecord{
		GameID:      s.id,
		White:       s.white.Name,
		Black:       s.black.Name,
		WinnerColor: winner,
		Method:      status,
		Speed:       s.speed,
		Rated:       s.rated,
		TimeControl: fmt.Sprintf("%d+%d", s.tcLimitSec, s.tcIncSec),
		MovesUCI:    movesUCI,
		MovesSAN:    movesSAN,
		StartedAt:   s.startedAt,
		EndedAt:     time.Now(),
	}
	if s.initialFEN == "" {
		if code, name := classifyOpening(s.game); name != "" {
			rec.ECO = code
			rec.Opening = name
			s.log.Debug("opening_classified",
				zap.String("eco", code),
				zap.String("opening", name))
		}
	}
	return rec
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.log.Debug("state_transition",
		zap.String("from", string(s.state)),
		zap.String("to", string(next)))
	s.state = next
}

func (s *Session) clockFor(c nchess.Color) (remaining, increment time.Duration) {
	if c == nchess.White {
		return s.whiteLeft, s.whiteInc
	}
	return s.blackLeft, s.blackInc
}

func (s *Session) colorString() string {
	if !s.colorKnown {
		return ""
	}
	return colorName(s.myColor)
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

func opponentColor(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}
