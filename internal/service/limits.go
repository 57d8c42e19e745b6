package service

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AltaraLabs/mq/config"
	"golang.org/x/time/rate"
)

func (s *Service) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		s.logger.Debug("Could not split host and port from remote address", "remote_addr", r.RemoteAddr, "error", err)
		remoteIP = r.RemoteAddr
	}

	// Honor X-Forwarded-For only when the request arrived through a proxy
	// the operator listed. Anyone else could spoof the header to dodge
	// per-address rate limits.
	for _, proxy := range s.cfg.TrustedProxies {
		if proxy != remoteIP {
			continue
		}
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := s.rateLimiters[category]
	if !ok {
		// Fallback to default if category not found, though this shouldn't happen with proper setup
		limiterCategory = s.rateLimiters["default"]
	}
	if limiterCategory == nil {
		return nil
	}

	ip := s.getRemoteAddress(r)
	limiterItem := limiterCategory.Get(ip)
	if limiterItem == nil {
		var rlConfig config.RateLimiterConfig
		switch category {
		case "queue":
			rlConfig = s.cfg.RateLimiters.Queue
		case "system":
			rlConfig = s.cfg.RateLimiters.System
		case "events":
			rlConfig = s.cfg.RateLimiters.Events
		default:
			rlConfig = s.cfg.RateLimiters.Default
		}
		limiter := rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		limiterItem = limiterCategory.Set(ip, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (s *Service) rateLimitMiddleware(next http.Handler, category string) http.Handler {

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		if limiter == nil {
			// No limiter configured at all for this category, let it through.
			next.ServeHTTP(w, r)
			return
		}

		res := limiter.Reserve()
		// If there's a delay, the request is rate-limited.
		if delay := res.Delay(); delay > 0 {
			// We're not proceeding, so cancel the reservation to return the token.
			res.Cancel()
			s.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			// Set headers to inform the client about the rate limit.
			retryAfterSeconds := math.Ceil(delay.Seconds())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfterSeconds))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
