// Package middleware provides HTTP middleware for operator authentication.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values
type ContextKey string

const operatorKey ContextKey = "operator"

// TokenValidator validates a bearer token
type TokenValidator interface {
	ValidateToken(tokenString string) (OperatorGetter, error)
}

// OperatorGetter exposes the operator named by validated claims
type OperatorGetter interface {
	GetOperator() string
}

// ErrNoOperator is returned when the request carries no authenticated operator
var ErrNoOperator = errors.New("operator not found in request context")

// AuthMiddleware rejects requests without a valid bearer token and records
// the operator on the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				unauthorized(w)
				return
			}
			operator := claims.GetOperator()
			if operator == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="planning-ingest"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// WithOperator returns a context carrying the operator
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey, operator)
}

// GetOperator returns the authenticated operator of the request
func GetOperator(r *http.Request) (string, error) {
	op, ok := r.Context().Value(operatorKey).(string)
	if !ok || op == "" {
		return "", ErrNoOperator
	}
	return op, nil
}
