package middleware

import (
	"net/http"
	"strings"
)

// AllowedMethods are the only methods a cross-origin caller may use.
var AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut}

// corsResponseWriter makes sure CORS headers are present on every response,
// including ones written by handlers that never touch the header map.
type corsResponseWriter struct {
	http.ResponseWriter
	origin     string
	headersSet bool
}

func (w *corsResponseWriter) WriteHeader(code int) {
	if !w.headersSet {
		w.setCORSHeaders()
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *corsResponseWriter) Write(b []byte) (int, error) {
	if !w.headersSet {
		w.setCORSHeaders()
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *corsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *corsResponseWriter) setCORSHeaders() {
	w.Header().Set("Access-Control-Allow-Origin", w.origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", strings.Join(AllowedMethods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.headersSet = true
}

// CORS allows the single configured frontend origin. Requests from other
// origins pass through without CORS headers, so browsers block the response.
// Preflights from the allowed origin are answered here.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	allowedOrigin = strings.TrimRight(allowedOrigin, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || origin != allowedOrigin {
				if r.Method == http.MethodOptions && origin != "" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			corsW := &corsResponseWriter{ResponseWriter: w, origin: origin}
			if r.Method == http.MethodOptions {
				if requested := r.Header.Get("Access-Control-Request-Method"); requested != "" && !methodAllowed(requested) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				corsW.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(corsW, r)
		})
	}
}

func methodAllowed(method string) bool {
	for _, m := range AllowedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
