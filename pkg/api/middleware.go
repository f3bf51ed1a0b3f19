package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// minSecretLength is the floor for HS256 signing secrets. Anything
// shorter is brute-forceable and rejected at construction.
const minSecretLength = 32

// ErrShortSecret means the configured JWT secret is below the minimum length
var ErrShortSecret = errors.New("jwt secret must be at least 32 bytes")

// ErrInvalidToken means the bearer token failed signature or claim checks
var ErrInvalidToken = errors.New("invalid token")

// requireAuth gates a handler behind bearer-token auth. With no secret
// configured the server is open and the middleware passes through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.opts.JWTSecret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearer(r)
		if err == nil {
			err = s.verifyToken(token)
		}
		if err != nil {
			s.metrics.AuthFailuresTotal.Inc()
			s.logger.Warn("request rejected",
				logging.String("path", r.URL.Path),
				logging.Error(err))
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("authorization header is not a bearer token")
	}
	return strings.TrimPrefix(header, prefix), nil
}

func (s *Server) verifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.opts.JWTSecret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// statusRecorder captures the status code written by the wrapped handler.
// Handlers that never call WriteHeader implicitly send 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics instruments every request with count, latency and
// in-flight gauges.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
