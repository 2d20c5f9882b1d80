package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	purposeSession  = "session"
	purposeRegister = "register"

	registrationTTL = 15 * time.Minute
)

var errWrongPurpose = errors.New("token purpose mismatch")

// Claims identify a Telegram user. Registration tokens also carry the profile
// taken from the verified Login Widget payload.
type Claims struct {
	ExternalID int64  `json:"tg_id"`
	Purpose    string `json:"purpose"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type Sessions struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSessions(key []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Sessions{key: key, ttl: ttl, now: time.Now}
}

func (s *Sessions) Issue(c Claims) (string, error) {
	now := s.now()
	ttl := s.ttl
	if c.Purpose == purposeRegister {
		ttl = registrationTTL
	}
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "reportbot",
		Subject:   fmt.Sprintf("tg_%d", c.ExternalID),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}

func (s *Sessions) Parse(raw, purpose string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Purpose != purpose {
		return nil, errWrongPurpose
	}
	return claims, nil
}

func (s *Sessions) TTL() time.Duration { return s.ttl }
