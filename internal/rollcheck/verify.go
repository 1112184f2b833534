package rollcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

// verify checks the daily board against the sums the rolls reported.
func verify(ctx context.Context, c *client, players []string, sums map[string]int64) error {
	var board Leaderboard
	// The board may hold players from earlier runs; read the viewer rows
	// individually and check the top page for ordering only.
	if _, _, err := c.do(ctx, http.MethodGet, "/leaderboard/daily?limit=100", "", "", &board); err != nil {
		return err
	}
	if err := checkOrder(board.Entries); err != nil {
		return err
	}

	expected := make([]Entry, 0, len(players))
	for _, p := range players {
		expected = append(expected, Entry{Player: p, Score: sums[p]})
	}
	sortEntries(expected)

	var prev Entry
	for i, want := range expected {
		var got struct {
			Ranked bool  `json:"ranked"`
			Rank   int   `json:"rank"`
			Score  int64 `json:"score"`
		}
		path := "/rank/daily/" + url.PathEscape(want.Player) + "?period=" + board.Period
		if _, _, err := c.do(ctx, http.MethodGet, path, "", "", &got); err != nil {
			return err
		}
		if !got.Ranked || got.Score != want.Score {
			return fmt.Errorf("%s: ranked=%v score %d, expected %d", want.Player, got.Ranked, got.Score, want.Score)
		}
		if i > 0 && got.Rank <= prev.Rank {
			return fmt.Errorf("%s ranked %d, not after %s at %d", want.Player, got.Rank, prev.Player, prev.Rank)
		}
		prev = Entry{Rank: got.Rank, Player: want.Player, Score: got.Score}
	}
	return nil
}

// checkOrder asserts score DESC, player ASC and sequential ranks.
func checkOrder(entries []Entry) error {
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("row %d has rank %d", i, e.Rank)
		}
		if i == 0 {
			continue
		}
		p := entries[i-1]
		if p.Score < e.Score || (p.Score == e.Score && p.Player >= e.Player) {
			return fmt.Errorf("rows %d and %d out of order: %s/%d before %s/%d",
				i-1, i, p.Player, p.Score, e.Player, e.Score)
		}
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Player < entries[j].Player
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// DefaultPrefix returns a player prefix unique to this run.
func DefaultPrefix(unixNano int64) string {
	return "check-" + strconv.FormatInt(unixNano, 36) + "-"
}
