package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/ledgersync/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey holds the ledger owner the call acts for.
	UserIDKey contextKey = "user_id"
	// DeviceIDKey holds the device named in the caller's token.
	DeviceIDKey contextKey = "device_id"
)

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetDeviceID extracts the device ID from the context.
func GetDeviceID(ctx context.Context) string {
	deviceID, _ := ctx.Value(DeviceIDKey).(string)
	return deviceID
}

// WithUserID returns a context acting for userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// RequireAuth returns an interceptor that validates the bearer token and puts
// the ledger owner and device into the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(tokenString)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			ctx = WithUserID(ctx, claims.UserID)
			ctx = context.WithValue(ctx, DeviceIDKey, claims.DeviceID)
			return next(ctx, req)
		}
	}
}
