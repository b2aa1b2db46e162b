package auth

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestExtractCredentialOrder(t *testing.T) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer from-header")
	q := url.Values{}
	q.Set("token", "from-query")
	q.Set("authorization", "Bearer from-authorization")

	cases := []struct {
		name string
		h    Handshake
		want string
	}{
		{"auth field wins", Handshake{Auth: "explicit", Header: hdr, Query: q}, "explicit"},
		{"header next", Handshake{Header: hdr, Query: q}, "from-header"},
		{"query token", Handshake{Query: q}, "from-query"},
		{"query authorization", Handshake{Query: url.Values{"authorization": {"Bearer abc"}}}, "abc"},
		{"nothing", Handshake{}, ""},
	}
	for _, c := range cases {
		if got := ExtractCredential(c.h); got != c.want {
			t.Errorf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok, err := v.Sign("user-1", "driver", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := v.Verify("Bearer " + tok)
	if err != nil || sub != "user-1" {
		t.Fatalf("verify = %q, %v", sub, err)
	}
	if _, err := NewJWTVerifier("other").Verify(tok); err == nil {
		t.Fatal("token signed with another secret must fail")
	}
	expired, _ := v.Sign("user-1", "", -time.Minute)
	if _, err := v.Verify(expired); err == nil {
		t.Fatal("expired token must fail")
	}
}

func TestIdentify(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok, _ := v.Sign("rider-9", "", time.Minute)

	strict := &Authenticator{Verifier: v}
	if _, err := strict.Identify(Handshake{}, "c1"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if _, err := strict.Identify(Handshake{Auth: "garbage"}, "c1"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	if id, err := strict.Identify(Handshake{Query: url.Values{"token": {tok}}}, "c1"); err != nil || id != "rider-9" {
		t.Fatalf("identify = %q, %v", id, err)
	}

	relaxed := &Authenticator{Verifier: v, RelaxedAuth: true}
	id, err := relaxed.Identify(Handshake{}, "c7")
	if err != nil || id != "guest-c7" || !IsGuest(id) {
		t.Fatalf("relaxed identify = %q, %v", id, err)
	}
	// relaxed mode still rejects bad tokens
	if _, err := relaxed.Identify(Handshake{Auth: "garbage"}, "c7"); err == nil {
		t.Fatal("relaxed auth must not accept invalid tokens")
	}
}
