package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/IlyasAtabaev731/onlyfrens/internal/lib/jwt"
	"github.com/gorilla/mux"
)

type ctxKey int

const principalKey ctxKey = iota

const kindUnauthenticated = "Unauthenticated"

// authenticate verifies the bearer token and hands the principal to next. The account id
// is only ever taken from a signed token, never from the raw header value.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenHeader := r.Header.Get("Authorization")
		if tokenHeader == "" {
			writeError(w, http.StatusUnauthorized, kindUnauthenticated, "missing authorization token")
			return
		}

		parts := strings.SplitN(tokenHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, kindUnauthenticated, "invalid authorization header")
			return
		}

		principal, err := jwt.ParseToken(parts[1], string(s.jwtSecret))
		if err != nil {
			s.logger.Debug("Rejected token", "error", err)
			writeError(w, http.StatusUnauthorized, kindUnauthenticated, "invalid token")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), principalKey, principal))
		next(w, r)
	}
}

func principalFrom(r *http.Request) *jwt.Principal {
	p, _ := r.Context().Value(principalKey).(*jwt.Principal)
	return p
}

func (s *APIServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "Internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *APIServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RequestServed(route, strconv.Itoa(rec.status))
	})
}
