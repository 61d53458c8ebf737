package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthMethod is how a request proved who it is.
type AuthMethod string

const (
	AuthMethodBasic AuthMethod = "basic" // username/password
	AuthMethodJWT   AuthMethod = "jwt"   // bearer token from Login
)

// Action is what a request wants to do with the renderers.
type Action string

const (
	ActionRead  Action = "read"  // list renderers, measure hogs, read history
	ActionWrite Action = "write" // send SIGSTOP or SIGCONT
)

// Roles understood by HasPermission.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// User is a configured API account. PasswordHash is a bcrypt hash, see HashPassword.
type User struct {
	Username     string   `toml:"username" mapstructure:"username"`
	PasswordHash string   `toml:"password_hash" mapstructure:"password_hash"`
	Roles        []string `toml:"roles" mapstructure:"roles"`
}

// Config enables authentication on the HTTP API.
type Config struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
	Users     []User        `toml:"users" mapstructure:"users"`
}

// Result is the authenticated identity stored on the request.
type Result struct {
	Method   AuthMethod `json:"method"`
	Username string     `json:"username"`
	Roles    []string   `json:"roles,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest is the body of POST {base}/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Claims are the JWT claims issued by Login.
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}
