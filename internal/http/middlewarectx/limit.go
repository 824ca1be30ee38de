package middlewarectx

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
)

const (
	limiterCacheSize = 10000
	limiterIdleTTL   = 10 * time.Minute
)

// userLimiters хранит token bucket на каждого пользователя. Число записей ограничено,
// запись без обращений дольше ttl удаляется.
type userLimiters struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

func newUserLimiters(rps float64, burst, size int, ttl time.Duration) *userLimiters {
	return &userLimiters{
		limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *userLimiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
	}
	// повторное добавление продлевает срок жизни записи
	l.limiters.Add(key, lim)
	return lim
}

// RateLimitMiddleware ограничивает частоту запросов одного пользователя. Запросы без
// пользователя в контексте ограничиваются по адресу клиента.
func RateLimitMiddleware(log *slog.Logger, rps float64, burst int) func(http.Handler) http.Handler {
	limiters := newUserLimiters(rps, burst, limiterCacheSize, limiterIdleTTL)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := UserIDFromContext(r.Context())
			if !ok {
				key = r.RemoteAddr
			}
			if !limiters.get(key).Allow() {
				log.Warn("too many requests", slog.String("op", "middlewarectx.RateLimitMiddleware"), slog.String("key", key))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
