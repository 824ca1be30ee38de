package middlewarectx

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/babysteps-billing/internal/http/response"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
)

const (
	// IdempotencyKeyHeader заголовок с ключом идемпотентности запроса.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется на ответах, повторённых из хранилища.
	ReplayedHeader = "X-Idempotency-Replayed"

	inFlightTTL = time.Minute
)

// IdempotencyStore хранилище сохранённых ответов (Redis).
type IdempotencyStore interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

type storedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
	Done        bool   `json:"done"`
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// IdempotencyMiddleware повторяет сохранённый ответ для запроса с уже виденным
// Idempotency-Key того же пользователя. Запросы без заголовка выполняются как есть.
// Пока первый запрос выполняется, повтор получает 409. Ответы 5xx не сохраняются,
// чтобы клиент мог повторить запрос.
func IdempotencyMiddleware(log *slog.Logger, store IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.IdempotencyMiddleware"

			idemKey := r.Header.Get(IdempotencyKeyHeader)
			if idemKey == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			userID, _ := UserIDFromContext(r.Context())
			cacheKey := "idempotency:" + userID + ":" + r.Method + ":" + r.URL.Path + ":" + idemKey
			ctx := r.Context()

			acquired, err := store.SetNX(ctx, cacheKey, storedResponse{}, inFlightTTL)
			if err != nil {
				// без Redis запрос выполняется без защиты от повторов
				log.Error("idempotency store unavailable", sl.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if !acquired {
				var stored storedResponse
				found, err := store.Get(ctx, cacheKey, &stored)
				switch {
				case err != nil:
					log.Error("failed to read stored response", sl.Err(err))
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, response.Error("internal error"))
				case !found || !stored.Done:
					render.Status(r, http.StatusConflict)
					render.JSON(w, r, response.Error("request with this Idempotency-Key is in progress"))
				default:
					if stored.ContentType != "" {
						w.Header().Set("Content-Type", stored.ContentType)
					}
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(stored.StatusCode)
					_, _ = w.Write([]byte(stored.Body))
				}
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			storeCtx := context.WithoutCancel(ctx)
			if rec.statusCode >= http.StatusInternalServerError {
				if err := store.Invalidate(storeCtx, cacheKey); err != nil {
					log.Error("failed to release idempotency key", sl.Err(err))
				}
				return
			}
			stored := storedResponse{
				StatusCode:  rec.statusCode,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.String(),
				Done:        true,
			}
			if err := store.Set(storeCtx, cacheKey, stored, ttl); err != nil {
				log.Error("failed to store response", sl.Err(err))
			}
		})
	}
}
