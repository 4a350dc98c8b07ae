package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store/memory"
	"PPDirect/tools/errs"
	"PPDirect/tools/security"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func newTestAuth(t *testing.T) (*Authenticator, security.Options) {
	t.Helper()
	ms := memory.New()
	if err := ms.PutIdentity(context.Background(), model.Identity{ID: "u1", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	opts := security.Options{Secret: []byte("auth-secret"), Alg: "HS256", TTL: time.Hour}
	return NewAuthenticator(opts, ms), opts
}

func TestAuthenticateValidToken(t *testing.T) {
	a, _ := newTestAuth(t)
	tok, err := a.IssueToken("u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	ident, err := a.Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ident.ID != "u1" || ident.Name != "Alice" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestAuthenticateLegacyIDClaim(t *testing.T) {
	a, opts := newTestAuth(t)
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"id":  "u1",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(opts.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if ident, err := a.Authenticate(context.Background(), tok); err != nil || ident.ID != "u1" {
		t.Fatalf("Authenticate(id claim) = %+v, %v", ident, err)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a, opts := newTestAuth(t)

	unknown, _, _ := security.Generate(opts, "ghost", nil)
	expired, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(opts.Secret)
	noSub, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(opts.Secret)
	otherKey, _, _ := security.Generate(security.Options{Secret: []byte("other"), TTL: time.Hour}, "u1", nil)

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"expired":       expired,
		"no subject":    noSub,
		"wrong secret":  otherKey,
		"unknown ident": unknown,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tok)
			if !errors.Is(err, &errs.ErrAuthentication) {
				t.Fatalf("err = %v, want authentication error", err)
			}
		})
	}
}
