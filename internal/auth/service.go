package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL applies when Config.TokenTTL is zero.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "crthrottle"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSecret           = errors.New("auth: jwt_secret is required when auth is enabled")
)

// Service checks passwords against the configured users and issues and
// verifies HS256 tokens.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
	users    map[string]User
	now      func() time.Time
}

// NewService returns nil, nil when auth is disabled.
func NewService(cfg Config) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	users := make(map[string]User, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.Username == "" {
			return nil, errors.New("auth: user without username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: user %s: password_hash is not a bcrypt hash: %w", u.Username, err)
		}
		if _, dup := users[u.Username]; dup {
			return nil, fmt.Errorf("auth: duplicate user %s", u.Username)
		}
		users[u.Username] = u
	}
	return &Service{secret: []byte(cfg.JWTSecret), tokenTTL: ttl, users: users, now: time.Now}, nil
}

// HashPassword returns the bcrypt hash to put in a user's password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword authenticates a username and password.
func (s *Service) CheckPassword(username, password string) (*Result, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Result{Method: AuthMethodBasic, Username: u.Username, Roles: u.Roles}, nil
}

// Login checks the password and issues a bearer token.
func (s *Service) Login(username, password string) (*Token, error) {
	res, err := s.CheckPassword(username, password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Username: res.Username,
		Roles:    res.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   res.Username,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify validates a token from Login. Roles come from the token, so a
// user removed from the config keeps access until the token expires.
func (s *Service) Verify(tokenString string) (*Result, error) {
	if tokenString == "" {
		return nil, ErrInvalidCredentials
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &Result{Method: AuthMethodJWT, Username: claims.Username, Roles: claims.Roles}, nil
}

// HasPermission reports whether any of roles allows action.
func HasPermission(roles []string, action Action) bool {
	for _, role := range roles {
		switch role {
		case RoleAdmin, RoleOperator:
			return true
		case RoleViewer:
			if action == ActionRead {
				return true
			}
		}
	}
	return false
}
