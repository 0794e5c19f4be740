package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/labstack/echo/v4"
)

var ErrUnauthorized = errors.New("unauthorized")

// IssueToken signs a player token; the subject is the player id.
func IssueToken(secret, playerID string, ttl time.Duration, now time.Time) (string, error) {
	if playerID == "" {
		return "", fmt.Errorf("%w: missing player id", ErrUnauthorized)
	}

	claims := jwt.StandardClaims{
		Subject:   playerID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

func PlayerFromToken(secret, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims := &jwt.StandardClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrUnauthorized, token.Header["alg"])
		}

		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return claims.Subject, nil
}

func tokenFromRequest(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return c.QueryParam("token")
}
