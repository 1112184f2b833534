// Package repository defines the leaderboard store interface and errors.
package repository

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then player ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the board from
// best to worst, and subtree sizes give a row's position in O(log n).

const defaultMetricsUpdateInterval = 5 * time.Second

// treap node
type node struct {
	id    string
	score int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore // higher score ranks earlier
	}
	return aID < bID // tie-breaker by id asc
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int64) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		// Rotate the higher-priority child up until the node is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// position counts rows ranked strictly before (score, id).
func position(n *node, id string, score int64) int {
	pos := 0
	for n != nil {
		if less(n.score, n.id, score, id) {
			pos += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return pos
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, out *[]model.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, model.Entry{Rank: len(*out) + 1, Player: n.id, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

type board struct {
	root *node
	byID map[string]int64
}

var _ Store = (*TreapStore)(nil)

// TreapStore holds one treap per board behind a single RW lock.
type TreapStore struct {
	mu     sync.RWMutex
	boards map[string]*board
	rng    *rand.Rand
	seed   uint64

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	stopOnce              sync.Once
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		boards:                make(map[string]*board),
		seed:                  uint64(time.Now().UnixNano()), //nolint:gosec // priority seed only
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed>>1|1)) //nolint:gosec // treap priorities need no secrecy

	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background metrics updater.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Set replaces player's score on board in O(log n) expected time.
func (s *TreapStore) Set(ctx context.Context, boardKey, player string, score int64) error {
	if boardKey == "" {
		return ErrInvalidBoard
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardKey]
	if !ok {
		b = &board{byID: make(map[string]int64)}
		s.boards[boardKey] = b
	}
	if old, ok := b.byID[player]; ok {
		if old == score {
			return nil
		}
		b.root = deleteNode(b.root, player, old)
	}
	b.byID[player] = score
	b.root = insert(b.root, player, score, s.rng.Uint64())
	return nil
}

// Rank returns the player's position in O(log n).
func (s *TreapStore) Rank(ctx context.Context, boardKey, player string) (model.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[boardKey]
	if !ok {
		return model.Entry{}, ErrNotFound
	}
	score, ok := b.byID[player]
	if !ok {
		return model.Entry{}, ErrNotFound
	}
	return model.Entry{Rank: position(b.root, player, score) + 1, Player: player, Score: score}, nil
}

// TopN returns the first n entries of board.
func (s *TreapStore) TopN(ctx context.Context, boardKey string, n int) ([]model.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[boardKey]
	if !ok {
		return []model.Entry{}, nil
	}
	out := make([]model.Entry, 0, min(n, len(b.byID)))
	collectTopN(b.root, n, &out)
	return out, nil
}

// Snapshot returns the whole board in rank order.
func (s *TreapStore) Snapshot(ctx context.Context, boardKey string) []model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boards[boardKey]
	if !ok {
		return []model.Entry{}
	}
	out := make([]model.Entry, 0, len(b.byID))
	collectTopN(b.root, len(b.byID), &out)
	return out
}

// Count returns the number of players on board.
func (s *TreapStore) Count(ctx context.Context, boardKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.boards[boardKey]; ok {
		return len(b.byID)
	}
	return 0
}

// Drop discards board.
func (s *TreapStore) Drop(ctx context.Context, boardKey string) {
	s.mu.Lock()
	delete(s.boards, boardKey)
	s.mu.Unlock()
}

// Boards lists board keys in lexical order.
func (s *TreapStore) Boards(ctx context.Context) []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.boards))
	for k := range s.boards {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// startMetricsUpdater starts a background goroutine that publishes board sizes.
func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

// updateMetrics reports the player count of the newest board per scope.
func (s *TreapStore) updateMetrics() {
	latest := map[string]string{}
	counts := map[string]int{}

	s.mu.RLock()
	for key, b := range s.boards {
		scope, period, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		if period >= latest[scope] {
			latest[scope] = period
			counts[scope] = len(b.byID)
		}
	}
	s.mu.RUnlock()

	for scope, n := range counts {
		metrics.UpdateBoardPlayers(scope, n)
	}
}
