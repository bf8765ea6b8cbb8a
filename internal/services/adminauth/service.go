package adminauth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("admin authorization failed")

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service mints and checks the short-lived admin tokens that gate the
// manual payment-confirmation and catalog-management endpoints.
type Service struct {
	secret    []byte
	accessTTL time.Duration
	isAdmin   func(int64) bool
	now       func() time.Time
}

func NewService(secret string, accessTTL time.Duration, isAdmin func(int64) bool) *Service {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}

	return &Service{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		isAdmin:   isAdmin,
		now:       time.Now,
	}
}

func (s *Service) Login(adminID int64) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("admin jwt secret is empty")
	}
	if adminID <= 0 || !s.isAdmin(adminID) {
		return "", time.Time{}, ErrUnauthorized
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)
	claims := tokenClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(adminID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}

	return signed, expiresAt, nil
}

func (s *Service) Verify(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, ErrUnauthorized
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || token == nil || !token.Valid {
		return 0, ErrUnauthorized
	}
	if claims.Role != "admin" {
		return 0, ErrUnauthorized
	}

	adminID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil || adminID <= 0 {
		return 0, ErrUnauthorized
	}
	if !s.isAdmin(adminID) {
		return 0, ErrUnauthorized
	}

	return adminID, nil
}
