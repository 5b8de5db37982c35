package exchange

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
)

// Authorizer builds the provider authorization URL the browser is sent to.
type Authorizer struct {
	Endpoint    string
	ClientID    string
	RedirectURI string
	Scope       string
}

// AuthorizeURL returns Endpoint with the authorization_code + PKCE S256 query attached.
func (a Authorizer) AuthorizeURL(state, challenge string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(a.Endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: authorization endpoint %q", errs.ErrInvalidURL, a.Endpoint)
	}
	q := u.Query()
	q.Set("response_type", "code")
	if a.ClientID != "" {
		q.Set("client_id", a.ClientID)
	}
	if a.RedirectURI != "" {
		q.Set("redirect_uri", a.RedirectURI)
	}
	if a.Scope != "" {
		q.Set("scope", a.Scope)
	}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", model.PKCEMethodS256)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
