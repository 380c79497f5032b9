package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pix-checkout-api/logger"
	"pix-checkout-api/models"
	"pix-checkout-api/services/auth"
	"pix-checkout-api/utils"
)

type contextKey string

const operatorContextKey contextKey = "operator"

// TokenValidator is implemented by auth.JWTService.
type TokenValidator interface {
	ValidateToken(token string) (*models.Operator, error)
}

// AuthMiddleware requires a valid operator bearer token.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.SendErrorResponse(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				utils.SendErrorResponse(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			op, err := validator.ValidateToken(parts[1])
			if err != nil {
				log.Info("operator token rejected", zap.String("remote", ClientIP(r)), zap.Error(err))

				message := "Authentication failed"
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					message = "Token expired"
				case errors.Is(err, auth.ErrInvalidToken):
					message = "Invalid token"
				}
				utils.SendErrorResponse(w, http.StatusUnauthorized, message)
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func OperatorFromContext(ctx context.Context) *models.Operator {
	op, _ := ctx.Value(operatorContextKey).(*models.Operator)
	return op
}
