package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/squirebot/squire/internal/arena"
	"github.com/squirebot/squire/internal/bot"
	"github.com/squirebot/squire/internal/config"
	"github.com/squirebot/squire/internal/gate"
	"github.com/squirebot/squire/internal/obslog"
	"github.com/squirebot/squire/internal/stats"
	"github.com/squirebot/squire/internal/uci"
)

var confPath string

var rootCmd = &cobra.Command{
	Use:           "squire",
	Short:         "An engine-backed bot account for the arena platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "conf", config.DefaultPath, "path to the YAML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "squire: %v\n", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context) error {
	if confPath == config.DefaultPath {
		if _, err := os.Stat(confPath); os.IsNotExist(err) {
			if werr := config.WriteSample(confPath); werr != nil {
				return fmt.Errorf("write sample config: %w", werr)
			}
			return fmt.Errorf("no config found, wrote %s: fill in your account token and restart", confPath)
		}
	}

	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := obslog.Init(obslog.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		BotName:    cfg.Bot.Username,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer obslog.Sync()
	log := obslog.L()

	if err := uci.CheckBinary(cfg.Engine.Path); err != nil {
		return fmt.Errorf("engine binary: %w", err)
	}

	var store stats.Store
	if cfg.Stats.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Stats.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		store = stats.NewRedisStore(redis.NewClient(opts))
		log.Info("stats_store", zap.String("backend", "redis"))
	} else {
		store = stats.NewFileStore(cfg.Stats.Path)
		log.Info("stats_store", zap.String("backend", "file"), zap.String("path", cfg.Stats.Path))
	}

	ledger := stats.NewLedger(cfg.Stats.Cap, store)
	hydrateCtx, cancelHydrate := context.WithTimeout(ctx, 10*time.Second)
	if err := ledger.Hydrate(hydrateCtx); err != nil {
		log.Warn("stats_hydrate_failed", zap.Error(err))
	}
	cancelHydrate()

	counter := gate.NewDailyCounter(time.Now)
	counter.Seed(ledger.BotGamesOn(time.Now()))
	log.Info("stats_loaded",
		zap.Int("entries", ledger.Len()),
		zap.Int("bot_games_today", counter.Count()))

	var archive *stats.Archive
	if cfg.Stats.DatabaseURL != "" {
		archive, err = stats.NewArchive(cfg.Stats.DatabaseURL)
		if err != nil {
			log.Warn("archive_unavailable", zap.Error(err))
			archive = nil
		} else {
			defer archive.Close()
			log.Info("archive_connected")
		}
	}

	client := arena.NewClient(cfg.Bot.BaseURL, cfg.Bot.Token)

	acctCtx, cancelAcct := context.WithTimeout(ctx, 15*time.Second)
	account, err := client.Account(acctCtx)
	cancelAcct()
	if err != nil {
		return fmt.Errorf("verify account: %w", err)
	}
	if !account.Bot {
		return fmt.Errorf("account %q is not a bot account", account.Name)
	}
	log.Info("logged_in", zap.String("account", account.Name), zap.Int("rating", account.Rating))

	stream := arena.NewStream(cfg.Bot.WSURL, cfg.Bot.Token, arena.StreamOptions{})

	manager := bot.NewManager(client, stream, ledger, archive, counter, bot.Config{
		Session: bot.SessionConfig{
			BotName:    account.Name,
			Greeting:   cfg.Greeting,
			Depth:      cfg.Engine.Depth,
			MinThink:   time.Duration(cfg.Engine.MinThinkMS) * time.Millisecond,
			MaxThink:   time.Duration(cfg.Engine.MaxThinkMS) * time.Millisecond,
			GameLogDir: cfg.Log.GameDir,
		},
		Policy: gate.NewPolicy(
			cfg.Policy.Speeds,
			cfg.Policy.Variants,
			cfg.Policy.AcceptRated,
			cfg.Policy.MaxDailyBotGames,
		),
		MaxConcurrent: cfg.Policy.MaxConcurrentGames,
		IdleEvery:     time.Duration(cfg.Idle.Seconds) * time.Second,
		Idle: bot.IdleConfig{
			Priority: cfg.Idle.Priority,
			Speed:    cfg.Idle.Speed,
			Seek: arena.Seek{
				Rated:   cfg.Idle.Rated,
				Variant: cfg.Idle.Variant,
				TimeControl: arena.TimeControl{
					Limit:     cfg.Idle.SeekLimit,
					Increment: cfg.Idle.SeekIncrement,
				},
			},
			PendingTTL: time.Duration(cfg.Idle.PendingTTLSec) * time.Second,
		},
		EnginePath: cfg.Engine.Path,
		EngineOptions: uci.Options{
			Threads: cfg.Engine.Threads,
			HashMB:  cfg.Engine.HashMB,
		},
	})

	if err := manager.Run(ctx); err != nil {
		log.Error("bot_stopped", zap.Error(err))
		return err
	}
	log.Info("bot_stopped")
	return nil
}
