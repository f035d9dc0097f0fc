package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the verified identity carried by a session token.
type Principal struct {
	AccountID string
	Username  string
}

func NewToken(acc *models.Account, jwtSecret string, duration time.Duration) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["uid"] = acc.ID
	claims["username"] = acc.Username
	claims["exp"] = time.Now().Add(duration).Unix()

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseToken(tokenString string, secret string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		return nil, fmt.Errorf("%w: missing uid claim", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)

	return &Principal{AccountID: uid, Username: username}, nil
}
