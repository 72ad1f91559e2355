// Package auth handles password hashing and bearer tokens.
package auth

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"newslens/internal/core"
)

// SecretEnv names the environment variable holding the token signing key.
const SecretEnv = "MYNEWSLENS_JWT_SECRET"

// TokenTTL is how long issued tokens stay valid.
const TokenTTL = 24 * time.Hour

// Secret returns the signing key from the environment, or a process-local
// fallback so a development instance without configuration still works.
func Secret() []byte {
	if s := os.Getenv(SecretEnv); s != "" {
		return []byte(s)
	}
	return []byte("newslens-dev-secret")
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", core.NewError(core.KindInternal, err)
	}
	return string(b), nil
}

// CheckPassword compares a plaintext password against its stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueToken signs a compact HS256 token carrying the user id as subject.
func IssueToken(userID int64, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", core.NewError(core.KindInternal, err)
	}
	return signed, nil
}

// ParseToken validates a token and returns the user id it names.
func ParseToken(tokenString string, secret []byte) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
	if err != nil {
		return 0, core.Errorf(core.KindUnauthorized, "invalid token: %v", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return 0, core.Errorf(core.KindUnauthorized, "token missing subject")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, core.Errorf(core.KindUnauthorized, "non-numeric subject %q", claims.Subject)
	}
	return userID, nil
}
