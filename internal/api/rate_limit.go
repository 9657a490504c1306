package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelconvert/internal/ratelimit"
)

type RateLimiter interface {
	Take(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// Each limited route draws from its own bucket per caller. Batches are
// charged per item by the handler once the body is decoded.
var rateLimitClasses = map[string]string{
	"/v1/conversions": "conversions",
	"/v1/images/info": "info",
}

const batchRateLimitClass = "batches"

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class, ok := rateLimitClasses[r.URL.Path]
		if r.Method != http.MethodPost || !ok {
			next.ServeHTTP(w, r)
			return
		}
		if s.admit(w, r, class, 1) {
			next.ServeHTTP(w, r)
		}
	})
}

// admit charges cost tokens and writes the 429 itself when the caller is
// over budget. Limiter errors admit the request.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, class string, cost int) bool {
	if s.rateLimiter == nil {
		return true
	}

	caller := strings.TrimSpace(r.Header.Get(s.rateLimitSubjectHeader))
	if caller == "" {
		caller = "anonymous"
	}
	subject := caller + ":" + class

	decision, err := s.rateLimiter.Take(r.Context(), subject, cost)
	if err != nil {
		s.logger.Printf("rate limiter unavailable subject=%s err=%v", subject, err)
		return true
	}

	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	s.metrics.rateLimitRejected.WithLabelValues(class).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded for " + class})
	return false
}
