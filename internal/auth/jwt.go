package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleStudent = "student"
	// RoleSystem is used for operations the process performs on its own, such as
	// expiring alerts. It is never accepted from a token.
	RoleSystem = "system"
)

var (
	ErrMissingClaims = errors.New("missing identity claims")
	ErrUnknownRole   = errors.New("unknown role")
)

type Claims struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	SchoolID string `json:"school_id"`
	ClassID  string `json:"class_id,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the tuple the rest of the service trusts once a token has been
// verified.
type Identity struct {
	UserID   string
	Role     string
	SchoolID string
	ClassID  string
	Name     string
}

func (id Identity) IsStaff() bool {
	return id.Role == RoleAdmin || id.Role == RoleStaff
}

// SystemIdentity acts on behalf of the process inside one school.
func SystemIdentity(schoolID string) Identity {
	return Identity{UserID: "system", Role: RoleSystem, SchoolID: schoolID}
}

func (c *Claims) Identity() (Identity, error) {
	if strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.SchoolID) == "" {
		return Identity{}, ErrMissingClaims
	}
	switch c.UserType {
	case RoleAdmin, RoleStaff, RoleStudent:
	default:
		return Identity{}, ErrUnknownRole
	}
	id := Identity{
		UserID:   c.UserID,
		Role:     c.UserType,
		SchoolID: c.SchoolID,
		Name:     c.Name,
	}
	if c.UserType == RoleStudent {
		id.ClassID = c.ClassID
	}
	return id, nil
}

func NewAccessToken(secret, issuer string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Verifier is the identity gate: bearer credential in, Identity out.
type Verifier struct {
	secret string
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingClaims
	}
	claims, err := ParseToken(v.secret, v.issuer, token)
	if err != nil {
		return Identity{}, err
	}
	return claims.Identity()
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
