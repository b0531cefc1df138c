package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// publicPaths are served without a token.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Subject returns the token subject of an authenticated request.
func Subject(ctx context.Context) string {
	if sub, ok := ctx.Value(contextKeySubject).(string); ok {
		return sub
	}
	return ""
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	parser := jwt.NewParser(s.parserOptions()...)
	secret := []byte(s.cfg.Auth.JWTSecret)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			// Browsers cannot set headers on websocket upgrades.
			raw = r.URL.Query().Get("access_token")
		}
		if raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="boxbase"`)
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			s.logger.Debug("Rejected token", "error", err, "request_id", GetRequestID(r.Context()))
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Auth.Issuer))
	}
	return opts
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
