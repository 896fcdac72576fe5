package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dcode.dev/mentor-hub/internal/config"
)

// TokenTTL is how long an issued token, and the session behind it, stays valid.
const TokenTTL = 24 * time.Hour

// Claims identify a user and the session (tab) the token was issued for.
type Claims struct {
	UserID    string
	SessionID string
}

func GenerateJWT(userID, sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": sessionID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ValidateJWT(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return Claims{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, fmt.Errorf("invalid token")
	}
	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || sid == "" {
		return Claims{}, fmt.Errorf("token is missing subject or session")
	}
	return Claims{UserID: sub, SessionID: sid}, nil
}
