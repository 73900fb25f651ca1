package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/config"
)

// ErrInvalidToken reports an unknown or malformed bearer token.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// StaticTokens is a fixed token → user id map, loaded from config.
type StaticTokens map[string]int64

func (t StaticTokens) Verify(token string) (int64, error) {
	id, ok := t[token]
	if !ok {
		return 0, ErrInvalidToken
	}
	return id, nil
}

type userKey struct{}

// userID extracts the authenticated user from the request context.
// The auth middleware guarantees it is set on protected routes.
func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

// withAuth rejects requests without a valid bearer token and stashes
// the resolved user id in the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.errorResponse(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.verifier.Verify(token)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		next(w, r.WithContext(ctx))
	}
}

// limiterPool hands out one token bucket per user.
type limiterPool struct {
	mu  sync.Mutex
	m   map[int64]*rate.Limiter
	cfg config.RateLimitConfig
}

func (p *limiterPool) get(user int64) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[int64]*rate.Limiter)
	}
	if l, ok := p.m[user]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[user] = l
	return l
}

func (p *limiterPool) Allow(user int64) bool {
	return p.get(user).Allow()
}

// pathID parses the {id} path segment of a conversation route.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
