package utils

import (
	"testing"
	"time"
)

func init() {
	SetJWTSecret("trackmirror-test-secret")
}

func TestGenerateToken_DashboardSession(t *testing.T) {
	token, err := GenerateToken(7, "mirror-owner", "user", 24)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != 7 || claims.Username != "mirror-owner" || claims.Role != "user" {
		t.Errorf("claims = %+v, expected the mirror owner's identity", claims)
	}
	if claims.Issuer != "trackmirror" {
		t.Errorf("Issuer = %q, expected %q", claims.Issuer, "trackmirror")
	}

	want := time.Now().Add(24 * time.Hour)
	if d := claims.ExpiresAt.Time.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("ExpiresAt off by %v", d)
	}
}

func TestGenerateToken_AdminAndUserDiffer(t *testing.T) {
	admin, _ := GenerateToken(1, "admin", "admin", 24)
	owner, _ := GenerateToken(2, "mirror-owner", "user", 24)
	if admin == owner {
		t.Error("tokens of different accounts should differ")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := GenerateToken(1, "admin", "admin", -1)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"signature": "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
		"expired":   expired,
	} {
		if _, err := ParseToken(token); err == nil {
			t.Errorf("%s: ParseToken() should fail", name)
		}
	}
}

func TestParseToken_AfterSecretRotation(t *testing.T) {
	defer SetJWTSecret("trackmirror-test-secret")

	SetJWTSecret("before-rotation")
	token, _ := GenerateToken(1, "admin", "admin", 24)

	SetJWTSecret("after-rotation")
	if _, err := ParseToken(token); err == nil {
		t.Error("tokens signed before a secret rotation should be rejected")
	}
}
