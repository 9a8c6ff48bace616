// Package auth resolves request credentials to a user and loads the user's
// role assignments from the database.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/TobiSchelling/lestari/internal/database"
)

// RoleAdmin may run counter repair over HTTP.
const RoleAdmin = "admin"

// Session is an authenticated caller.
type Session struct {
	UserID string
	Roles  []database.UserRole
}

// HasRole reports whether the session holds role in any region.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r.Role == role {
			return true
		}
	}
	return false
}

// RoleStore looks up persisted role assignments.
type RoleStore interface {
	GetUserRoles(ctx context.Context, userID string) ([]database.UserRole, error)
}

// Resolver verifies HS256 session tokens carried in an Authorization bearer
// header or a session cookie.
type Resolver struct {
	secret     []byte
	issuer     string
	cookieName string
	roles      RoleStore
}

// NewResolver creates a Resolver. roles may be nil, in which case sessions
// carry no roles.
func NewResolver(secret []byte, issuer, cookieName string, roles RoleStore) *Resolver {
	return &Resolver{secret: secret, issuer: issuer, cookieName: cookieName, roles: roles}
}

// IssueToken signs a session token for userID valid for ttl.
func (r *Resolver) IssueToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := jwt.TimeFunc()
	claims := jwt.StandardClaims{
		Subject:   userID,
		Issuer:    r.issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ResolveSession returns the session for the request's credentials, or
// false if none are present or they do not verify.
func (r *Resolver) ResolveSession(req *http.Request) (*Session, bool) {
	raw := tokenFromRequest(req, r.cookieName)
	if raw == "" {
		return nil, false
	}

	userID, err := r.verify(raw)
	if err != nil {
		log.Printf("rejected session token: %v", err)
		return nil, false
	}

	s := &Session{UserID: userID}
	if r.roles != nil {
		roles, err := r.roles.GetUserRoles(req.Context(), userID)
		if err != nil {
			// Without roles the caller can still like articles; role checks fail closed.
			log.Printf("loading roles for %s: %v", userID, err)
		} else {
			s.Roles = roles
		}
	}
	return s, true
}

func (r *Resolver) verify(raw string) (string, error) {
	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !claims.VerifyIssuer(r.issuer, true) {
		return "", fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func tokenFromRequest(req *http.Request, cookieName string) string {
	if h := req.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if c, err := req.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
