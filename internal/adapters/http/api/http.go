// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/rollboard/internal/domain/allowance"
	"github.com/okian/rollboard/internal/domain/dedupe"
	"github.com/okian/rollboard/internal/domain/engine"
	"github.com/okian/rollboard/internal/domain/entitlement"
	"github.com/okian/rollboard/internal/domain/model"
	"github.com/okian/rollboard/pkg/logger"
)

// Request headers.
const (
	HeaderPlayerID       = "X-Player-ID"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

const (
	defaultLeaderboardLimit = 10
	defaultMaxLimit         = 100
)

// Dependencies required by HTTP handlers. *engine.Engine satisfies it.
type Dependencies interface {
	Roll(ctx context.Context, player string) (model.Roll, error)
	RollWithKey(ctx context.Context, player, key string) (model.Roll, error)
	Allowance(ctx context.Context, player string) (engine.Allowance, error)
	DailyRecord(player string, date model.Date) (model.DailyRecord, bool)

	Period(scope model.Scope, period string) (string, error)
	TopN(ctx context.Context, scope model.Scope, period string, n int) ([]model.Entry, error)
	RankOf(ctx context.Context, scope model.Scope, period, player string) (model.Entry, bool, error)
	Count(ctx context.Context, scope model.Scope, period string) (int, error)

	History(ctx context.Context, player, date string) ([]model.Roll, error)
	Stats(ctx context.Context) engine.Stats
}

// SkinSelector picks the cosmetic skin shown with a roll.
type SkinSelector interface {
	Select(ctx context.Context, player string) entitlement.Skin
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps         Dependencies
	replayer     dedupe.Replayer
	skins        SkinSelector
	defaultLimit int
	maxLimit     int
	logger       logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReplayer enables X-Idempotency-Key handling on POST /roll.
func WithReplayer(r dedupe.Replayer) Option {
	return func(s *Server) { s.replayer = r }
}

// WithSkins attaches a skin selector to roll responses.
func WithSkins(sel SkinSelector) Option {
	return func(s *Server) { s.skins = sel }
}

// WithLimits sets the default and maximum leaderboard page size.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Server) {
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		defaultLimit: defaultLeaderboardLimit,
		maxLimit:     defaultMaxLimit,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.handleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("POST /roll", MetricsMiddleware(s.handleRoll, "roll"))
	mux.HandleFunc("GET /allowance", MetricsMiddleware(s.handleAllowance, "allowance"))
	mux.HandleFunc("GET /history", MetricsMiddleware(s.handleHistory, "history"))
	mux.HandleFunc("GET /leaderboard/daily", MetricsMiddleware(s.leaderboard(model.ScopeDaily, "date"), "leaderboard_daily"))
	mux.HandleFunc("GET /leaderboard/weekly", MetricsMiddleware(s.leaderboard(model.ScopeWeekly, "week"), "leaderboard_weekly"))
	mux.HandleFunc("GET /rank/{scope}/{player}", MetricsMiddleware(s.handleRank, "rank"))
}

type errorResponse struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates engine and API errors into status codes.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	var cooldown *allowance.CooldownError
	switch {
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.Remaining.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Code:             "cooldown_active",
			Message:          Wrap(op, err).Error(),
			SecondsRemaining: secs,
		})
	case errors.Is(err, engine.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "daily_limit_reached", Wrap(op, err))
	case errors.Is(err, engine.ErrDayClosed):
		writeError(w, http.StatusConflict, "day_closed", WrapKind(op, ErrConflict, err))
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, engine.ErrInvalidPlayer),
		errors.Is(err, engine.ErrInvalidScope),
		errors.Is(err, engine.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, engine.ErrNoHistory):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// playerID reads the caller identity; the identity layer in front of the
// service is trusted.
func playerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderPlayerID))
}

func requirePlayer(op string, r *http.Request) (string, error) {
	p := playerID(r)
	if p == "" {
		return "", NewKind(op, ErrUnauthorized)
	}
	return p, nil
}
