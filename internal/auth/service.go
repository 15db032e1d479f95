package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the fields the studio reads from the generation API's access
// token. Tokens are issued by the API; the studio only reads them.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the stable user key: uid when present, otherwise sub.
func (c Claims) Principal() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Service parses bearer tokens. With an empty secret the signature is not
// checked (the API remains the authority) but expiry still is.
type Service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (s *Service) Verifies() bool {
	return len(s.secret) > 0
}

func (s *Service) ParseAccess(tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrUnauthorized
	}
	if !s.Verifies() {
		return s.parseUnverified(tokenString)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Principal() == "" {
		return Claims{}, ErrUnauthorized
	}
	return *claims, nil
}

func (s *Service) parseUnverified(tokenString string) (Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Claims{}, ErrUnauthorized
	}
	if claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time) {
		return Claims{}, ErrTokenExpired
	}
	if claims.Principal() == "" {
		return Claims{}, ErrUnauthorized
	}
	return *claims, nil
}

// IssueAccess signs a short-lived HS256 token. It exists for local
// development against the mock API and requires a secret.
func (s *Service) IssueAccess(userID, email string, ttl time.Duration) (string, error) {
	if !s.Verifies() {
		return "", fmt.Errorf("issue access token: %w", errors.New("no signing secret configured"))
	}
	now := s.now().UTC()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "genstudio",
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return access, nil
}

// TokenSource supplies the bearer token for outgoing API calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type StaticTokenSource string

func (s StaticTokenSource) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type tokenKey struct{}

// ContextWithToken attaches the caller's bearer token so downstream API
// calls act on the caller's behalf.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey{}).(string)
	return v
}
