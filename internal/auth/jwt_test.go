package auth

import (
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:   "user-1",
		UserType: "student",
		SchoolID: "school-1",
		ClassID:  "7b",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	id, err := NewVerifier("secret", "issuer").Verify(token)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if id.UserID != "user-1" || id.Role != RoleStudent || id.SchoolID != "school-1" || id.ClassID != "7b" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsWrongIssuerAndSecret(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "u", UserType: "admin", SchoolID: "s"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := NewVerifier("secret", "other").Verify(token); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
	if _, err := NewVerifier("other", "issuer").Verify(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "u", UserType: "admin", SchoolID: "s"})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := NewVerifier("secret", "issuer").Verify(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestClaimsIdentity(t *testing.T) {
	staff := Claims{UserID: "u", UserType: "staff", SchoolID: "s", ClassID: "ignored"}
	id, err := staff.Identity()
	if err != nil {
		t.Fatalf("identity error: %v", err)
	}
	if id.ClassID != "" {
		t.Fatalf("class id should only be kept for students")
	}
	if !id.IsStaff() {
		t.Fatalf("staff should count as staff")
	}

	if _, err := (&Claims{UserID: "u", UserType: "dev", SchoolID: "s"}).Identity(); err != ErrUnknownRole {
		t.Fatalf("expected unknown role, got %v", err)
	}
	if _, err := (&Claims{UserID: "u", UserType: "admin"}).Identity(); err != ErrMissingClaims {
		t.Fatalf("expected missing claims, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"":            "",
		"Bearer":      "",
	}
	for header, expected := range cases {
		if got := BearerToken(header); got != expected {
			t.Fatalf("header %q expected %q got %q", header, expected, got)
		}
	}
}
