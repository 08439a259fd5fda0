// Package middleware provides HTTP middleware for the chatrelay API.
package middleware

import "net/http"

// CORS returns middleware enforcing the daemon's origin policy. In dev mode
// every origin is allowed; otherwise only the configured frontend origin
// may call the API with credentials. The same policy gates the WebSocket
// event stream, so keep the two in sync.
func CORS(frontendOrigin string, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case origin == "":
				// Same-origin or non-browser caller; nothing to grant.
			case isDev:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			case frontendOrigin != "" && origin == frontendOrigin:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				// Credentials only for the explicit origin, never a wildcard
				// echo: that combination enables CSRF.
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
