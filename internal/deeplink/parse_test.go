package deeplink

import (
	"testing"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestParse_Callback(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	raw := "linkauth://auth/callback?code=abc&state=s1&state=s2"

	ev, cb, err := parseAt(raw, now)
	require.NoError(t, err)
	require.Equal(t, raw, ev.URL)
	require.Equal(t, now, ev.Timestamp)
	require.Equal(t, map[string]string{"code": "abc", "state": "s1"}, ev.ParsedParams)

	require.NotNil(t, cb)
	require.Equal(t, "abc", *cb.Code)
	require.Equal(t, "s1", *cb.State)
	require.Nil(t, cb.Error)
	require.Nil(t, cb.ErrorDescription)
}

func TestParse_CallbackDetection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url      string
		callback bool
	}{
		{"https://app.example.com/auth/callback", true},
		{"linkauth://auth/callback", true},
		{"linkauth:auth/callback?state=x", true},
		{"linkauth:///auth/callback", true},
		{"linkauth://anything?code=1", true},
		{"linkauth://settings/open?tab=2", false},
		{"https://app.example.com/auth", false},
	}
	for _, tt := range tests {
		_, cb, err := Parse(tt.url)
		require.NoError(t, err, tt.url)
		require.Equal(t, tt.callback, cb != nil, tt.url)
	}
}

func TestParse_ProviderError(t *testing.T) {
	t.Parallel()
	_, cb, err := Parse("linkauth://auth/callback?error=access_denied&error_description=nope&state=s")
	require.NoError(t, err)
	require.NotNil(t, cb)
	require.Nil(t, cb.Code)
	require.Equal(t, "access_denied", *cb.Error)
	require.Equal(t, "nope", *cb.ErrorDescription)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not a url", "/auth/callback?code=1", "linkauth://auth/%zz"} {
		_, _, err := Parse(raw)
		require.ErrorIs(t, err, errs.ErrInvalidURL, raw)
	}
}
