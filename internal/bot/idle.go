package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/squirebot/squire/internal/arena"
	"github.com/squirebot/squire/internal/obslog"
)

const idleActionTimeout = 15 * time.Second

// idleClient is the slice of the platform API the scheduler uses to find
// new games.
type idleClient interface {
	UpcomingTournaments(ctx context.Context) ([]arena.Tournament, error)
	JoinTournament(ctx context.Context, id string) error
	PostSeek(ctx context.Context, seek arena.Seek) error
}

// IdleConfig tells the scheduler what to do when no games run.
type IdleConfig struct {
	Priority   []string
	Speed      string
	Seek       arena.Seek
	PendingTTL time.Duration
}

// idleScheduler keeps the bot busy: when the active set is empty it takes
// the first action from the priority list that succeeds, then waits for the
// platform to react. At most one action is outstanding at a time.
type idleScheduler struct {
	client idleClient
	cfg    IdleConfig
	log    *zap.Logger

	mu        sync.Mutex
	pending   bool
	pendingAt time.Time
}

func newIdleScheduler(client idleClient, cfg IdleConfig) *idleScheduler {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	return &idleScheduler{
		client: client,
		cfg:    cfg,
		log:    obslog.L(),
	}
}

// MaybeAct fires one idle action unless a previous one is still outstanding.
// It never blocks the caller.
func (i *idleScheduler) MaybeAct(ctx context.Context) {
	i.mu.Lock()
	if i.pending && time.Since(i.pendingAt) < i.cfg.PendingTTL {
		i.mu.Unlock()
		return
	}
	i.pending = true
	i.pendingAt = time.Now()
	i.mu.Unlock()

	go i.act(ctx)
}

// ClearPending re-arms the scheduler. Called when a pending action resolved,
// either a game started or the platform declined.
func (i *idleScheduler) ClearPending() {
	i.mu.Lock()
	i.pending = false
	i.mu.Unlock()
}

func (i *idleScheduler) act(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, idleActionTimeout)
	defer cancel()

	for _, action := range i.cfg.Priority {
		switch action {
		case "tournament":
			if i.joinTournament(ctx) {
				return
			}
		case "seek":
			if i.postSeek(ctx) {
				return
			}
		default:
			i.log.Warn("unknown_idle_action", zap.String("action", action))
		}
	}
	// nothing worked, allow the next tick to try again
	i.ClearPending()
}

func (i *idleScheduler) joinTournament(ctx context.Context) bool {
	tournaments, err := i.client.UpcomingTournaments(ctx)
	if err != nil {
		i.log.Warn("tournament_list_failed", zap.Error(err))
		return false
	}
	for _, t := range tournaments {
		if i.cfg.Speed != "" && !strings.EqualFold(t.Speed, i.cfg.Speed) {
			continue
		}
		if err := i.client.JoinTournament(ctx, t.ID); err != nil {
			i.log.Warn("tournament_join_failed", zap.String("tournament_id", t.ID), zap.Error(err))
			continue
		}
		i.log.Info("tournament_joined", zap.String("tournament_id", t.ID), zap.String("name", t.Name))
		return true
	}
	return false
}

func (i *idleScheduler) postSeek(ctx context.Context) bool {
	if err := i.client.PostSeek(ctx, i.cfg.Seek); err != nil {
		i.log.Warn("seek_failed", zap.Error(err))
		return false
	}
	i.log.Info("seek_posted",
		zap.Int("limit", i.cfg.Seek.TimeControl.Limit),
		zap.Int("increment", i.cfg.Seek.TimeControl.Increment),
		zap.Bool("rated", i.cfg.Seek.Rated))
	return true
}
