// Package entitlement answers ownership questions for cosmetic and reward
// eligibility. Scoring never consults it.
package entitlement

import (
	"context"
	"strings"
	"sync"
)

// Oracle answers "does player hold tag?".
type Oracle interface {
	HasEntitlement(ctx context.Context, player, tag string) (bool, error)
}

// Static is an Oracle backed by a fixed grant table.
type Static struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

// NewStatic builds an oracle from player -> tags.
func NewStatic(grants map[string][]string) *Static {
	s := &Static{grants: make(map[string]map[string]struct{}, len(grants))}
	for player, tags := range grants {
		for _, tag := range tags {
			s.Grant(player, tag)
		}
	}
	return s
}

// ParseGrants reads "player:tag1|tag2" items as produced by flat config.
func ParseGrants(items []string) map[string][]string {
	out := make(map[string][]string)
	for _, item := range items {
		player, tags, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok || player == "" {
			continue
		}
		for _, tag := range strings.Split(tags, "|") {
			if tag = strings.TrimSpace(tag); tag != "" {
				out[player] = append(out[player], tag)
			}
		}
	}
	return out
}

// Grant adds tag to player.
func (s *Static) Grant(player, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.grants[player]
	if !ok {
		tags = make(map[string]struct{})
		s.grants[player] = tags
	}
	tags[tag] = struct{}{}
}

// HasEntitlement implements Oracle.
func (s *Static) HasEntitlement(ctx context.Context, player, tag string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[player][tag]
	return ok, nil
}

// Skin is a cosmetic identifier.
type Skin string

// Selector picks the first skin in priority order whose tag the player holds.
type Selector struct {
	oracle   Oracle
	fallback Skin
	priority []string
	skins    map[string]Skin
}

// NewSelector builds a selector. skins maps tag -> skin; priority lists tags
// best first. Tags missing from priority are ignored.
func NewSelector(oracle Oracle, fallback Skin, priority []string, skins map[string]Skin) *Selector {
	return &Selector{oracle: oracle, fallback: fallback, priority: priority, skins: skins}
}

// Select returns the player's skin. Oracle failures fall back to the default.
func (s *Selector) Select(ctx context.Context, player string) Skin {
	for _, tag := range s.priority {
		skin, ok := s.skins[tag]
		if !ok {
			continue
		}
		held, err := s.oracle.HasEntitlement(ctx, player, tag)
		if err != nil {
			return s.fallback
		}
		if held {
			return skin
		}
	}
	return s.fallback
}

// ParseSkins reads "tag:skin" items.
func ParseSkins(items []string) map[string]Skin {
	out := make(map[string]Skin, len(items))
	for _, item := range items {
		tag, skin, ok := strings.Cut(strings.TrimSpace(item), ":")
		if ok && tag != "" && skin != "" {
			out[tag] = Skin(skin)
		}
	}
	return out
}
