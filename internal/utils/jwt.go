package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GetJwtSecretString returns the resolved JWT secret as a string.
// Resolution order: JWT_SECRET -> OPSDECK_JWT_SECRET -> dev default (non-strict only).
func GetJwtSecretString() (string, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("OPSDECK_JWT_SECRET"))
	}
	if secret == "" {
		// Dev default so a fresh checkout runs without setup. OPSDECK_STRICT_JWT
		// requires an explicit secret (set it in production).
		strict := strings.EqualFold(strings.TrimSpace(os.Getenv("OPSDECK_STRICT_JWT")), "1") ||
			strings.EqualFold(strings.TrimSpace(os.Getenv("OPSDECK_STRICT_JWT")), "true")
		if !strict {
			secret = "dev_jwt_secret_123"
		}
	}
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return secret, nil
}

// GetJwtSecretBytes returns the resolved JWT secret in []byte form.
func GetJwtSecretBytes() ([]byte, error) {
	s, err := GetJwtSecretString()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// GenerateJWT creates a new session token for a given user ID.
func GenerateJWT(userID uuid.UUID) (string, error) {
	jwtSecret, err := GetJwtSecretBytes()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Hour * 72).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}
