// Package identity resolves the authenticated principal on each request.
//
// Account management lives in a separate service; this core only needs a
// user id, a role, and the verified flag. Requests carry a bearer token of
// the form "<user_id>.<hmac>" minted by the identity service with a shared
// secret, and the user row is read locally for role and verification status.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid token")
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the locally persisted slice of an account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID   string
	Role     Role
	Verified bool
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Store looks up users.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
}

// Authenticator validates bearer tokens and resolves principals.
type Authenticator struct {
	secret []byte
	store  Store
}

// NewAuthenticator creates an authenticator with the shared HMAC secret.
func NewAuthenticator(secret string, store Store) *Authenticator {
	return &Authenticator{secret: []byte(secret), store: store}
}

// SignToken mints a token for the given user id. Used by the identity
// service and by tests; this core never mints tokens for real traffic.
func (a *Authenticator) SignToken(userID string) string {
	return userID + "." + a.signature(userID)
}

// Resolve validates the token and loads the principal.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*Principal, error) {
	dot := strings.LastIndex(token, ".")
	if dot <= 0 || dot == len(token)-1 {
		return nil, ErrInvalidToken
	}
	userID, sig := token[:dot], token[dot+1:]

	if !hmac.Equal([]byte(sig), []byte(a.signature(userID))) {
		return nil, ErrInvalidToken
	}

	user, err := a.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Principal{
		UserID:   user.ID,
		Role:     user.Role,
		Verified: user.Verified,
	}, nil
}

func (a *Authenticator) signature(userID string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
