package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	t.Run("round trip", func(t *testing.T) {
		token, err := m.Generate("user-1", "device-1")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if claims.UserID != "user-1" || claims.DeviceID != "device-1" {
			t.Errorf("unexpected claims: %+v", claims)
		}
		if claims.Subject != "user-1" {
			t.Errorf("Subject = %q, want user-1", claims.Subject)
		}
	})

	t.Run("empty user rejected", func(t *testing.T) {
		if _, err := m.Generate("", "device-1"); err == nil {
			t.Error("expected error for empty user id")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := NewJWTManager("other-secret", time.Hour).Generate("user-1", "")
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := NewJWTManager("test-secret", -time.Minute).Generate("user-1", "")
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		token, _ := m.Generate("user-1", "")
		parts := strings.Split(token, ".")
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		if _, err := m.Validate(tampered); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})
}
