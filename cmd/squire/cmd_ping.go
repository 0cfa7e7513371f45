package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/squirebot/squire/internal/arena"
	"github.com/squirebot/squire/internal/config"
	"github.com/squirebot/squire/internal/uci"
)

var pingWatch time.Duration

func init() {
	pingCmd.Flags().DurationVar(&pingWatch, "watch", 10*time.Second, "how long to watch the event stream")
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe the platform API, the event stream and the engine binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPing(cmd.Context())
	},
}

// runPing exercises each external collaborator independently so a broken
// token, an unreachable websocket and a missing engine binary all show up
// in one invocation.
func runPing(ctx context.Context) error {
	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ok := true

	if err := uci.CheckBinary(cfg.Engine.Path); err != nil {
		ok = false
		fmt.Fprintf(os.Stdout, "engine: %v\n", err)
	} else {
		fmt.Fprintf(os.Stdout, "engine: ok (%s)\n", cfg.Engine.Path)
	}

	client := arena.NewClient(cfg.Bot.BaseURL, cfg.Bot.Token, arena.WithTimeout(8*time.Second))
	acctCtx, cancelAcct := context.WithTimeout(ctx, 8*time.Second)
	account, err := client.Account(acctCtx)
	cancelAcct()
	if err != nil {
		ok = false
		fmt.Fprintf(os.Stdout, "api: %v\n", err)
	} else {
		fmt.Fprintf(os.Stdout, "api: ok (account %s, bot=%t, rating %d)\n",
			account.Name, account.Bot, account.Rating)
	}

	var connected atomic.Bool
	stream := arena.NewStream(cfg.Bot.WSURL, cfg.Bot.Token, arena.StreamOptions{
		MaxAttempts: 1,
		OnConnect:   func() { connected.Store(true) },
	})

	watchCtx, cancelWatch := context.WithTimeout(ctx, pingWatch)
	defer cancelWatch()
	runErr := make(chan error, 1)
	go func() { runErr <- stream.Run(watchCtx) }()

	seen := 0
	for range stream.Events() {
		seen++
	}
	switch err := <-runErr; {
	case err != nil:
		ok = false
		fmt.Fprintf(os.Stdout, "stream: %v\n", err)
	case !connected.Load():
		ok = false
		fmt.Fprintf(os.Stdout, "stream: no connection within %s\n", pingWatch)
	default:
		fmt.Fprintf(os.Stdout, "stream: ok (%d events in %s)\n", seen, pingWatch)
	}

	if !ok {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
