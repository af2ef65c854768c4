package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveWithRoles(authn *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	var seen *Identity
	handler := authn.RequireRoles(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestRequireRolesAdmitsStaff(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-1",
		Claims: map[string]any{
			"roles": []any{"Staff", "staff"},
			"admin": true,
			"email": " ops@example.com ",
		},
	}}

	rr, identity := serveWithRoles(NewAuthenticator(verifier), "Bearer abc", RoleStaff)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "abc" {
		t.Fatalf("unexpected token %q", verifier.received)
	}
	if identity.UID != "uid-1" || identity.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !reflect.DeepEqual(identity.Roles, []string{"admin", "staff"}) {
		t.Fatalf("unexpected roles %v", identity.Roles)
	}
}

func TestRequireRolesForbidsMissingRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-2", Claims: map[string]any{"roles": "viewer"}}}

	rr, identity := serveWithRoles(NewAuthenticator(verifier), "Bearer abc", RoleStaff, RoleAdmin)

	if rr.Code != http.StatusForbidden || identity != nil {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	assertAuthCode(t, rr, "insufficient_role")
}

func TestRequireRolesRejectsBadCredentials(t *testing.T) {
	cases := map[string]struct {
		header string
		err    error
		code   string
	}{
		"missing header": {header: "", code: "unauthenticated"},
		"wrong scheme":   {header: "Basic abc", code: "unauthenticated"},
		"verifier error": {header: "Bearer abc", err: errors.New("signature mismatch"), code: "invalid_token"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			verifier := &stubTokenVerifier{err: tc.err, token: &firebaseauth.Token{UID: "u"}}
			rr, _ := serveWithRoles(NewAuthenticator(verifier), tc.header)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			assertAuthCode(t, rr, tc.code)
		})
	}
}

func TestRolesFromCustomClaimMap(t *testing.T) {
	roles := rolesFromClaims(map[string]any{"access": map[string]any{"staff": true, "admin": false}}, "access")
	if !reflect.DeepEqual(roles, []string{"staff"}) {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func assertAuthCode(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != want {
		t.Fatalf("expected error %q, got %v", want, payload["error"])
	}
}
