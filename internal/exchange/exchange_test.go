package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method string
	form   url.Values
}

func newProvider(t *testing.T, status int, body any, seen chan<- seenRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if seen != nil {
			seen <- seenRequest{method: r.Method, form: r.PostForm}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchange_Success(t *testing.T) {
	t.Parallel()
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "user-42",
		"email":          "a@example.com",
		"wallet_address": "0xabc",
	}).SignedString([]byte("provider-key"))
	require.NoError(t, err)

	seenCh := make(chan seenRequest, 1)
	srv := newProvider(t, http.StatusOK, map[string]any{
		"access_token":  "at",
		"refresh_token": "rt",
		"token_type":    "bearer",
		"expires_in":    120,
		"scope":         "openid email",
		"id_token":      idToken,
	}, seenCh)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ex := New(Config{TokenURL: srv.URL, ClientID: " app ", RedirectURI: "linkauth://auth/callback", Now: func() time.Time { return now }})

	res, err := ex.Exchange(context.Background(), Request{Code: "c0de", Verifier: "v3rifier"})
	require.NoError(t, err)

	seen := <-seenCh
	require.Equal(t, http.MethodPost, seen.method)
	require.Equal(t, "authorization_code", seen.form.Get("grant_type"))
	require.Equal(t, "c0de", seen.form.Get("code"))
	require.Equal(t, "v3rifier", seen.form.Get("code_verifier"))
	require.Equal(t, "app", seen.form.Get("client_id"))
	require.Equal(t, "linkauth://auth/callback", seen.form.Get("redirect_uri"))

	require.Equal(t, "at", res.Token.AccessToken)
	require.Equal(t, "rt", res.Token.RefreshToken)
	require.Equal(t, "bearer", res.Token.TokenType)
	require.Equal(t, now.Add(2*time.Minute), res.Token.ExpiresAt)
	require.NotNil(t, res.Token.Scope)
	require.Equal(t, "openid email", *res.Token.Scope)
	require.Equal(t, "user-42", *res.UserID)
	require.Equal(t, "a@example.com", *res.Email)
	require.Equal(t, "0xabc", *res.WalletAddress)
}

func TestExchange_Defaults(t *testing.T) {
	t.Parallel()
	srv := newProvider(t, http.StatusOK, map[string]any{"access_token": "at"}, nil)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ex := New(Config{TokenURL: srv.URL, Now: func() time.Time { return now }})

	res, err := ex.Exchange(context.Background(), Request{Code: "c", Verifier: "v"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", res.Token.TokenType)
	require.Equal(t, now.Add(time.Hour), res.Token.ExpiresAt)
	require.Nil(t, res.Token.Scope)
	require.Nil(t, res.UserID)
	require.Nil(t, res.Email)
	require.Nil(t, res.WalletAddress)
}

func TestExchange_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"verifier mismatch", http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code_verifier does not match"}, errs.ErrPKCEFailed},
		{"used code", http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "code already redeemed"}, errs.ErrInvalidCode},
		{"client error", http.StatusUnauthorized, map[string]any{"error": "invalid_client"}, errs.ErrExchange},
		{"server error", http.StatusInternalServerError, map[string]any{}, errs.ErrExchange},
		{"error in 200", http.StatusOK, map[string]any{"error": "temporarily_unavailable"}, errs.ErrExchange},
		{"missing token", http.StatusOK, map[string]any{"token_type": "Bearer"}, errs.ErrExchange},
		{"not json", http.StatusOK, "<html>", errs.ErrExchange},
		{"bad id token", http.StatusOK, map[string]any{"access_token": "at", "id_token": "not-a-jwt"}, errs.ErrExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newProvider(t, tt.status, tt.body, nil)
			_, err := New(Config{TokenURL: srv.URL}).Exchange(context.Background(), Request{Code: "c", Verifier: "v"})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExchange_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}).Exchange(context.Background(), Request{Code: "c", Verifier: "v"})
	require.ErrorIs(t, err, errs.ErrExchange)

	_, err = New(Config{TokenURL: "http://127.0.0.1:1/token"}).Exchange(context.Background(), Request{Verifier: "v"})
	require.ErrorIs(t, err, errs.ErrInvalidCode)
}

func TestExchange_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Config{TokenURL: addr, Timeout: time.Second}).Exchange(context.Background(), Request{Code: "c", Verifier: "v"})
	require.ErrorIs(t, err, errs.ErrExchange)
}
