package auth

import (
	"testing"

	"newslens/internal/core"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "s3cret") {
		t.Error("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(42, secret)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	userID, err := ParseToken(token, secret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if userID != 42 {
		t.Errorf("expected user 42, got %d", userID)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, _ := IssueToken(42, []byte("right"))
	_, err := ParseToken(token, []byte("wrong"))
	if !core.IsKind(err, core.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := ParseToken("not.a.token", []byte("secret")); !core.IsKind(err, core.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestSecretFromEnv(t *testing.T) {
	t.Setenv(SecretEnv, "from-env")
	if string(Secret()) != "from-env" {
		t.Errorf("expected env secret, got %q", Secret())
	}
}
