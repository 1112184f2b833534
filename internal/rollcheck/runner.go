package rollcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rollboard/pkg/logger"
)

// Run rolls every synthetic player through the whole daily quota and checks
// the resulting boards.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Named("rollcheck")
	stats := &Stats{StartTime: time.Now(), Players: cfg.Players}
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting roll check",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("workers", cfg.Workers),
	)

	if status, _, err := c.do(ctx, http.MethodGet, "/healthz", "", "", nil); err != nil || status != http.StatusOK {
		return nil, fmt.Errorf("service health check failed: status %d: %w", status, err)
	}

	players := make([]string, cfg.Players)
	for i := range players {
		players[i] = cfg.Prefix + strconv.Itoa(i)
	}

	sums, err := rollAll(ctx, c, cfg, players, stats)
	if err != nil {
		return stats, err
	}
	if err := verify(ctx, c, players, sums); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "roll check passed",
		logger.Int64("granted", stats.Granted),
		logger.Int64("limited", stats.Limited),
		logger.Int64("replayed", stats.Replayed),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// rollAll exhausts each player's quota plus one extra roll and returns the
// daily sum observed for each player.
func rollAll(ctx context.Context, c *client, cfg *Config, players []string, stats *Stats) (map[string]int64, error) {
	var (
		mu   sync.Mutex
		sums = make(map[string]int64, len(players))
		errs []error
		wg   sync.WaitGroup
	)
	jobs := make(chan string, cfg.Workers*2)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				sum, err := rollPlayer(ctx, c, cfg, p, stats)
				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", p, err))
				} else {
					sums[p] = sum
				}
				mu.Unlock()
			}
		}()
	}
	for _, p := range players {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return sums, errors.Join(errs...)
}

func rollPlayer(ctx context.Context, c *client, cfg *Config, player string, stats *Stats) (int64, error) {
	var a Allowance
	if _, _, err := c.do(ctx, http.MethodGet, "/allowance", player, "", &a); err != nil {
		return 0, err
	}
	if a.Used != 0 {
		return 0, fmt.Errorf("player already rolled %d times today; use a fresh prefix", a.Used)
	}

	var sum int64
	for i := 1; i <= a.Quota; i++ {
		key := player + "-" + strconv.Itoa(i)
		var r RollResult
		status, code, err := c.do(ctx, http.MethodPost, "/roll", player, key, &r)
		if err != nil {
			atomic.AddInt64(&stats.Failed, 1)
			return 0, err
		}
		if status != http.StatusOK {
			atomic.AddInt64(&stats.Failed, 1)
			return 0, fmt.Errorf("roll %d: status %d %s", i, status, code)
		}
		atomic.AddInt64(&stats.Granted, 1)
		if r.RollIndex != i || r.Remaining != a.Quota-i {
			return 0, fmt.Errorf("roll %d: got index %d remaining %d", i, r.RollIndex, r.Remaining)
		}
		sum += int64(r.Total)
		if r.DailySum != sum {
			return 0, fmt.Errorf("roll %d: daily sum %d, expected %d", i, r.DailySum, sum)
		}

		if i <= cfg.Replays {
			var again RollResult
			if _, _, err := c.do(ctx, http.MethodPost, "/roll", player, key, &again); err != nil {
				return 0, err
			}
			if !again.Replayed || again.RollID != r.RollID {
				return 0, fmt.Errorf("roll %d: idempotency key was charged twice", i)
			}
			atomic.AddInt64(&stats.Replayed, 1)
		}
	}

	status, code, err := c.do(ctx, http.MethodPost, "/roll", player, "", nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusTooManyRequests || code != "daily_limit_reached" {
		return 0, fmt.Errorf("roll past quota: status %d %s", status, code)
	}
	atomic.AddInt64(&stats.Limited, 1)
	return sum, nil
}
