package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expense-ledger/internal/ledger"
)

func writeStatus(w http.ResponseWriter, _ *http.Request, status int, code string) {
	http.Error(w, code, status)
}

func TestValidator_RoundTrip(t *testing.T) {
	v := &Validator{Secret: []byte("s3cret"), Issuer: "expense-ledger"}

	tok, err := v.Issue(Identity{AccountID: "acct-1", Role: ledger.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	id, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id.AccountID)
	assert.True(t, id.IsAdmin())
}

func TestValidator_Rejects(t *testing.T) {
	v := &Validator{Secret: []byte("s3cret")}

	expired, err := v.Issue(Identity{AccountID: "a", Role: ledger.RoleMember}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := &Validator{Secret: []byte("other")}
	forged, err := other.Issue(Identity{AccountID: "a", Role: ledger.RoleAdmin}, time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "a", Role: ledger.RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Validate(none)
	require.ErrorIs(t, err, ErrInvalidToken)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "a"}).SignedString(v.Secret)
	require.NoError(t, err)
	_, err = v.Validate(noRole)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = (&Validator{}).Validate(expired)
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = BearerToken("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	v := &Validator{Secret: []byte("s3cret")}
	member, err := v.Issue(Identity{AccountID: "m", Role: ledger.RoleMember}, time.Minute)
	require.NoError(t, err)
	admin, err := v.Issue(Identity{AccountID: "a", Role: ledger.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	var seen Identity
	h := Authenticate(v, writeStatus)(RequireRole(ledger.RoleAdmin, writeStatus)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "member", header: "Bearer " + member, want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + admin, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
	assert.Equal(t, "a", seen.AccountID)
}
