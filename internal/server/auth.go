package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/unrolled/render"
)

const roleAdmin = "admin"

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// requireAdmin accepts HS256 bearer tokens carrying role=admin.
func requireAdmin(secret string, rnd *render.Render) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				rnd.JSON(w, http.StatusUnauthorized, errorResponse{Error: "not authorized"})
				return
			}

			tok, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims{}, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				rnd.JSON(w, http.StatusUnauthorized, errorResponse{Error: "bad token"})
				return
			}

			cl, ok := tok.Claims.(*claims)
			if !ok || cl.Role != roleAdmin {
				rnd.JSON(w, http.StatusForbidden, errorResponse{Error: "admin only"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
