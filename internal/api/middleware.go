/**
 * @description
 * This file contains custom middleware for the HTTP router.
 *
 * @dependencies
 * - net/http: Standard Go library.
 */

package api

import (
	"crypto/subtle"
	"net/http"
)

// InternalAuthMiddleware guards service-to-service endpoints with a shared
// API key in the X-Internal-API-Key header. An empty configured key disables
// the check (local development).
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
