// Command rollcheck exercises a running rollboard over HTTP and verifies the
// daily quota, idempotent replays and leaderboard ordering.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/rollboard/internal/rollcheck"
	"github.com/okian/rollboard/pkg/logger"
)

const (
	defaultPlayers = 200
	defaultTimeout = 10 * time.Second
	runTimeout     = 10 * time.Minute
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the service")
		players = flag.Int("players", defaultPlayers, "Number of synthetic players")
		prefix  = flag.String("prefix", "", "Player id prefix (default: unique per run)")
		workers = flag.Int("workers", runtime.NumCPU()*2, "Number of concurrent workers")
		replays = flag.Int("replays", 3, "Rolls per player re-sent with the same idempotency key")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		format  = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if *prefix == "" {
		*prefix = rollcheck.DefaultPrefix(time.Now().UnixNano())
	}
	_, err := rollcheck.Run(ctx, &rollcheck.Config{
		BaseURL: *baseURL,
		Players: *players,
		Prefix:  *prefix,
		Workers: *workers,
		Timeout: *timeout,
		Replays: *replays,
	})
	if err != nil {
		logger.Get().Error(ctx, "roll check failed", logger.Error(err))
		os.Exit(1)
	}
}
