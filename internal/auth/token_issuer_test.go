package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }

	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	token, expiresAt, err := issuer.Issue(SessionIdentity{
		UserID:      " google:kid-7 ",
		Email:       "kid@example.com",
		DisplayName: "Kid",
		Roles:       []string{"child"},
	})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("validator rejected issued token: %v", err)
	}
	if claims.UserID != "google:kid-7" || claims.Subject != "google:kid-7" {
		t.Fatalf("unexpected identity claims %+v", claims)
	}
	if claims.Issuer != defaultSessionIssuer {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if !claims.HasAnyRole([]string{"child"}) {
		t.Fatalf("expected roles to survive the round trip, got %v", claims.UserRoles)
	}
}

func TestTokenIssuerRejectsIncompleteInput(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	if _, _, err := issuer.Issue(SessionIdentity{UserID: "  "}); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected missing user id error, got %v", err)
	}
}

func TestTokenIssuerTokensExpire(t *testing.T) {
	issuedAt := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issuedAt },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	token, _, err := issuer.Issue(SessionIdentity{UserID: "alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		CookieName:    testSessionCookieName,
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Minute) },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}
