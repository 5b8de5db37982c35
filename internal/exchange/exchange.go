// Package exchange redeems an authorization code and PKCE verifier for tokens at the identity provider.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultTokenTTL       = time.Hour
	maxResponseBodyBytes  = 1 << 20
)

// Request is one authorization_code grant.
type Request struct {
	Code        string
	Verifier    string
	RedirectURI string
}

// Result is the token bundle plus identity claims read from the optional ID token.
type Result struct {
	Token         model.AuthToken
	UserID        *string
	Email         *string
	WalletAddress *string
}

// TokenExchanger redeems codes at the provider.
type TokenExchanger interface {
	Exchange(ctx context.Context, req Request) (Result, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures HTTPExchanger.
type Config struct {
	TokenURL    string
	ClientID    string
	RedirectURI string
	Timeout     time.Duration
	HTTPClient  HTTPDoer
	Now         func() time.Time
}

// HTTPExchanger posts RFC 6749 token requests as application/x-www-form-urlencoded.
type HTTPExchanger struct {
	cfg    Config
	client HTTPDoer
}

var _ TokenExchanger = (*HTTPExchanger)(nil)

// New constructs an HTTPExchanger, filling defaults.
func New(cfg Config) *HTTPExchanger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	return &HTTPExchanger{cfg: cfg, client: client}
}

type tokenPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	IDToken          string `json:"id_token"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange performs the token request. Provider rejections are mapped onto
// errs.ErrPKCEFailed (verifier mismatch), errs.ErrInvalidCode (bad or used code)
// and errs.ErrExchange (everything else).
func (e *HTTPExchanger) Exchange(ctx context.Context, req Request) (Result, error) {
	if e.cfg.TokenURL == "" {
		return Result{}, fmt.Errorf("%w: token url is not configured", errs.ErrExchange)
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Verifier) == "" {
		return Result{}, fmt.Errorf("%w: code and verifier are required", errs.ErrInvalidCode)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", req.Code)
	form.Set("code_verifier", req.Verifier)
	if e.cfg.ClientID != "" {
		form.Set("client_id", e.cfg.ClientID)
	}
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = e.cfg.RedirectURI
	}
	if redirect != "" {
		form.Set("redirect_uri", redirect)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %w", errs.ErrExchange, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: token request: %w", errs.ErrExchange, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %w", errs.ErrExchange, err)
	}
	if len(body) > maxResponseBodyBytes {
		return Result{}, fmt.Errorf("%w: response exceeds %d bytes", errs.ErrExchange, maxResponseBodyBytes)
	}

	var p tokenPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, fmt.Errorf("%w: decode response (status %d): %w", errs.ErrExchange, resp.StatusCode, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices || p.ErrorCode != "" {
		return Result{}, classify(resp.StatusCode, p)
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		return Result{}, fmt.Errorf("%w: response missing access_token", errs.ErrExchange)
	}

	return e.result(p)
}

func describe(p tokenPayload) string {
	if d := strings.TrimSpace(p.ErrorDescription); d != "" {
		return d
	}
	if c := strings.TrimSpace(p.ErrorCode); c != "" {
		return c
	}
	return "unknown error"
}

func classify(status int, p tokenPayload) error {
	desc := describe(p)
	if p.ErrorCode == "invalid_grant" {
		lower := strings.ToLower(p.ErrorDescription)
		if strings.Contains(lower, "verifier") || strings.Contains(lower, "pkce") {
			return fmt.Errorf("%w: %s", errs.ErrPKCEFailed, desc)
		}
		return fmt.Errorf("%w: %s", errs.ErrInvalidCode, desc)
	}
	return fmt.Errorf("%w: provider error (%d): %s", errs.ErrExchange, status, desc)
}

func (e *HTTPExchanger) result(p tokenPayload) (Result, error) {
	ttl := defaultTokenTTL
	if p.ExpiresIn > 0 {
		ttl = time.Duration(p.ExpiresIn) * time.Second
	}
	tokenType := strings.TrimSpace(p.TokenType)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	out := Result{Token: model.AuthToken{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    e.cfg.Now().Add(ttl),
		TokenType:    tokenType,
	}}
	if s := strings.TrimSpace(p.Scope); s != "" {
		out.Token.Scope = &s
	}
	if p.IDToken != "" {
		if err := readIdentity(p.IDToken, &out); err != nil {
			return Result{}, err
		}
	}
	return out, nil
}

// readIdentity copies subject, email and wallet claims. The token arrived over the
// provider's TLS channel in direct response to our request, so its signature is not checked here.
func readIdentity(raw string, out *Result) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("%w: parse id_token: %w", errs.ErrExchange, err)
	}
	out.UserID = claimString(claims, "sub")
	out.Email = claimString(claims, "email")
	out.WalletAddress = claimString(claims, "wallet_address")
	if out.WalletAddress == nil {
		out.WalletAddress = claimString(claims, "wallet")
	}
	return nil
}

func claimString(c jwt.MapClaims, key string) *string {
	v, ok := c[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
