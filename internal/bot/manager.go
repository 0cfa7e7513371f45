// Package bot runs the playing side of the account: it consumes the event
// stream, gates challenges, and drives one session per live game.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/squirebot/squire/internal/arena"
	"github.com/squirebot/squire/internal/gate"
	"github.com/squirebot/squire/internal/obslog"
	"github.com/squirebot/squire/internal/stats"
	"github.com/squirebot/squire/internal/uci"
)

const (
	apiCallTimeout = 10 * time.Second
	recordTimeout  = 5 * time.Second
	archiveTimeout = 10 * time.Second
	drainTimeout   = 10 * time.Second
	reservationTTL = 2 * time.Minute
)

// Client is the full platform surface the manager and its sessions use.
// *arena.Client satisfies it.
type Client interface {
	gameClient
	idleClient
	AcceptChallenge(ctx context.Context, id string) error
	DeclineChallenge(ctx context.Context, id, reason string) error
}

// eventStream delivers decoded stream items in arrival order. Events()
// closes when Run returns.
type eventStream interface {
	Run(ctx context.Context) error
	Events() <-chan arena.Event
}

// Config wires a Manager.
type Config struct {
	Session       SessionConfig
	Policy        gate.Policy
	MaxConcurrent int
	IdleEvery     time.Duration
	Idle          IdleConfig
	EnginePath    string
	EngineOptions uci.Options
}

// Manager owns the account-level loop: one goroutine consumes the stream
// and dispatches, each game runs in its own session goroutine. A semaphore
// slot is reserved when a challenge is accepted and handed to the session
// once its gameStart arrives.
type Manager struct {
	cfg     Config
	client  Client
	stream  eventStream
	ledger  *stats.Ledger
	archive *stats.Archive
	counter *gate.DailyCounter
	idle    *idleScheduler
	sem     *semaphore.Weighted
	log     *zap.Logger

	newEngine func() engineChannel

	mu       sync.RWMutex
	runCtx   context.Context
	sessions map[string]*Session
	reserved []time.Time

	wg sync.WaitGroup
}

func NewManager(client Client, stream eventStream, ledger *stats.Ledger, archive *stats.Archive, counter *gate.DailyCounter, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.IdleEvery <= 0 {
		cfg.IdleEvery = time.Minute
	}
	m := &Manager{
		cfg:      cfg,
		client:   client,
		stream:   stream,
		ledger:   ledger,
		archive:  archive,
		counter:  counter,
		idle:     newIdleScheduler(client, cfg.Idle),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      obslog.L(),
		sessions: make(map[string]*Session),
	}
	m.newEngine = func() engineChannel {
		return uci.New(cfg.EnginePath, cfg.EngineOptions)
	}
	return m
}

// Run blocks until the stream gives up or ctx is cancelled. A nil return
// means a clean shutdown, an error means the platform connection is gone
// for good.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("manager_started",
		zap.Int("max_concurrent", m.cfg.MaxConcurrent),
		zap.Int("daily_bot_games_so_far", m.counter.Count()))

	g, gctx := errgroup.WithContext(ctx)
	m.mu.Lock()
	m.runCtx = gctx
	m.mu.Unlock()

	g.Go(func() error {
		return m.stream.Run(gctx)
	})
	g.Go(func() error {
		m.consume(gctx)
		return nil
	})
	g.Go(func() error {
		m.tick(gctx)
		return nil
	})

	err := g.Wait()
	m.drainSessions()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) consume(ctx context.Context) {
	for ev := range m.stream.Events() {
		m.handleEvent(ctx, ev)
		m.maybeIdle(ctx)
	}
}

func (m *Manager) tick(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.IdleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expireReservations()
			m.maybeIdle(ctx)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev arena.Event) {
	switch ev.Type {
	case arena.EventChallenge:
		if ev.Challenge == nil {
			return
		}
		m.handleChallenge(ctx, ev.Challenge)
	case arena.EventChallengeDeclined:
		if ev.Challenge != nil {
			m.log.Info("challenge_was_declined", zap.String("challenge_id", ev.Challenge.ID))
		}
		m.idle.ClearPending()
	case arena.EventGameStart:
		if ev.Game == nil {
			return
		}
		m.startGame(ctx, ev.Game.ID)
	case arena.EventGameFinish:
		if ev.Game == nil {
			return
		}
		m.routeToSession(ev.Game.ID, ev)
	case arena.EventGameFull, arena.EventGameState:
		m.routeToSession(ev.GameID, ev)
	default:
		m.log.Debug("event_ignored", zap.String("type", ev.Type))
	}
}

// handleChallenge decides synchronously and answers the platform off the
// event loop. Accepting reserves a session slot up front so a burst of
// challenges cannot oversubscribe the engine host.
func (m *Manager) handleChallenge(ctx context.Context, ch *arena.Challenge) {
	if strings.EqualFold(ch.Challenger.Name, m.cfg.Session.BotName) {
		return
	}

	decision := gate.Decide(*ch, m.cfg.Policy, m.counter.Count())
	if decision.Accept && !m.sem.TryAcquire(1) {
		decision = gate.Decision{Reason: arena.DeclineLater}
	}

	if !decision.Accept {
		m.log.Info("challenge_declined",
			zap.String("challenge_id", ch.ID),
			zap.String("challenger", ch.Challenger.Name),
			zap.String("reason", decision.Reason))
		reason := decision.Reason
		go func() {
			cctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
			defer cancel()
			if err := m.client.DeclineChallenge(cctx, ch.ID, reason); err != nil {
				m.log.Warn("challenge_decline_failed", zap.String("challenge_id", ch.ID), zap.Error(err))
			}
		}()
		return
	}

	m.addReservation()
	if ch.Challenger.Bot {
		m.counter.Increment()
	}
	m.log.Info("challenge_accepted",
		zap.String("challenge_id", ch.ID),
		zap.String("challenger", ch.Challenger.Name),
		zap.String("speed", ch.Speed),
		zap.Bool("rated", ch.Rated),
		zap.Int("bot_games_today", m.counter.Count()))

	go func() {
		cctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
		defer cancel()
		if err := m.client.AcceptChallenge(cctx, ch.ID); err != nil {
			m.log.Warn("challenge_accept_failed", zap.String("challenge_id", ch.ID), zap.Error(err))
			m.dropReservation()
		}
	}()
}

func (m *Manager) startGame(ctx context.Context, gameID string) {
	m.idle.ClearPending()

	m.mu.Lock()
	if _, dup := m.sessions[gameID]; dup {
		m.mu.Unlock()
		m.log.Warn("duplicate_game_start", zap.String("game_id", gameID))
		return
	}
	hasSlot := m.takeReservationLocked()
	if !hasSlot {
		// a game we did not reserve for, e.g. a seek or tournament pairing
		hasSlot = m.sem.TryAcquire(1)
		if !hasSlot {
			m.log.Warn("game_started_over_capacity", zap.String("game_id", gameID))
		}
	}
	s := newSession(gameID, m.client, m.newEngine(), m.cfg.Session, func(entry stats.Entry, rec *stats.GameRecord) {
		m.retire(gameID, hasSlot, entry, rec)
	})
	m.sessions[gameID] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.log.Info("game_session_spawned", zap.String("game_id", gameID), zap.Int("active", active))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(ctx)
	}()
}

func (m *Manager) routeToSession(gameID string, ev arena.Event) {
	if gameID == "" {
		return
	}
	m.mu.RLock()
	s := m.sessions[gameID]
	m.mu.RUnlock()
	if s == nil {
		m.log.Debug("no_session_for_game", zap.String("game_id", gameID), zap.String("type", ev.Type))
		return
	}
	if !s.Deliver(ev) {
		m.log.Debug("session_already_finished", zap.String("game_id", gameID))
	}
}

// retire runs on the session goroutine as its last act. Failures here stay
// inside the one game: a stats write that does not land is logged and the
// loop keeps going.
func (m *Manager) retire(gameID string, hadSlot bool, entry stats.Entry, rec *stats.GameRecord) {
	m.mu.Lock()
	delete(m.sessions, gameID)
	active := len(m.sessions)
	rctx := m.runCtx
	m.mu.Unlock()
	if hadSlot {
		m.sem.Release(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.ledger.Record(ctx, entry); err != nil {
		m.log.Warn("stats_save_failed", zap.String("game_id", gameID), zap.Error(err))
	}
	if m.archive != nil && rec != nil {
		go m.archiveGame(rec)
	}

	m.log.Info("session_retired",
		zap.String("game_id", gameID),
		zap.String("result", string(entry.Result)),
		zap.Int("active", active))

	if active == 0 && rctx != nil && rctx.Err() == nil {
		m.maybeIdle(rctx)
	}
}

func (m *Manager) archiveGame(rec *stats.GameRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.archive.SaveGame(ctx, rec); err != nil {
		m.log.Warn("archive_save_failed", zap.String("game_id", rec.GameID), zap.Error(err))
	}
}

func (m *Manager) maybeIdle(ctx context.Context) {
	m.mu.RLock()
	idle := len(m.sessions) == 0 && len(m.reserved) == 0
	m.mu.RUnlock()
	if idle {
		m.idle.MaybeAct(ctx)
	}
}

func (m *Manager) addReservation() {
	m.mu.Lock()
	m.reserved = append(m.reserved, time.Now())
	m.mu.Unlock()
}

func (m *Manager) takeReservationLocked() bool {
	if len(m.reserved) == 0 {
		return false
	}
	m.reserved = m.reserved[1:]
	return true
}

func (m *Manager) dropReservation() {
	m.mu.Lock()
	n := len(m.reserved)
	if n > 0 {
		m.reserved = m.reserved[:n-1]
	}
	m.mu.Unlock()
	if n > 0 {
		m.sem.Release(1)
	}
}

// expireReservations frees slots for accepted challenges whose gameStart
// never came, the opponent may have withdrawn.
func (m *Manager) expireReservations() {
	var expired int
	m.mu.Lock()
	for len(m.reserved) > 0 && time.Since(m.reserved[0]) > reservationTTL {
		m.reserved = m.reserved[1:]
		expired++
	}
	m.mu.Unlock()
	for i := 0; i < expired; i++ {
		m.sem.Release(1)
	}
	if expired > 0 {
		m.log.Info("reservations_expired", zap.Int("count", expired))
	}
}

func (m *Manager) activeSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) drainSessions() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		m.log.Warn("sessions_drain_timeout", zap.Int("active", m.activeSessions()))
	}
}
