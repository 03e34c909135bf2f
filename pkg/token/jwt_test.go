package token

import (
	"testing"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 1)

	tokenString, err := manager.GenerateToken("ingest-gateway", "tenant-a")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if tokenString == "" {
		t.Fatal("expected a non-empty token string")
	}

	claims, err := manager.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Service != "ingest-gateway" {
		t.Errorf("expected service ingest-gateway, got %q", claims.Service)
	}
	if claims.TenantID != "tenant-a" {
		t.Errorf("expected tenant tenant-a, got %q", claims.TenantID)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", 1)
	other := NewJWTManager("other-secret", 1)

	tokenString, err := manager.GenerateToken("ingest-gateway", "tenant-a")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := other.VerifyToken(tokenString); err == nil {
		t.Error("expected verification with a different secret to fail")
	}
}

func TestVerifyTokenRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -1)

	tokenString, err := manager.GenerateToken("ingest-gateway", "tenant-a")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := manager.VerifyToken(tokenString); err == nil {
		t.Error("expected verification of an expired token to fail")
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	manager := NewJWTManager("test-secret", 1)

	if _, err := manager.VerifyToken("not-a-token"); err == nil {
		t.Error("expected verification of a malformed token to fail")
	}
}
