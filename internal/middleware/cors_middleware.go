package middleware

import (
	"net/http"
	"strings"

	"locatr/internal/config"
)

// CORSMiddleware answers preflight requests and tags responses for the
// configured viewer origins. A "*" entry allows any origin, without
// credentials.
func CORSMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	wildcard := false
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			wildcard = true
		default:
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if _, ok := allowed[origin]; ok && origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			} else if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", cfg.AllowedMethods)
				h.Set("Access-Control-Allow-Headers", cfg.AllowedHeaders)
				h.Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
