package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"
)

// Authentication requires the X-API-Key header to equal key. An empty key
// lets every request through.
func Authentication(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "Clave de acceso no válida", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
