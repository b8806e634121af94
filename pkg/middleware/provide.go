package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundflow/receipts/pkg/constants"
)

// Provide injects a fixed value under the given context key for every request.
func Provide(key any, value any) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPool makes the pgx pool available to composables.UsePool/UseTx.
func WithPool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return Provide(constants.PoolKey, pool)
}
