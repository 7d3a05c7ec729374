package proxy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Recovery converts panics in downstream handlers into 500 responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.ErrorContext(r.Context(), "panic recovered in HTTP handler",
					"panic", rec,
					"path", r.URL.Path,
				)
				writeJSONError(r.Context(), w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Logging logs each request and response through the given structured
// logger. Headers and bodies are not logged: request bodies on the token
// endpoint carry secrets.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return httplog.RequestLogger(logger, &httplog.Options{
			Schema:             httplog.SchemaECS.Concise(true),
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			RecoverPanics:      false, // Recovery middleware handles panics
		})(next)
	}
}

// applyMiddlewares wraps handler so that the first middleware in the list
// is the outermost.
func applyMiddlewares(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
