// Package deeplink turns URLs delivered by the OS into auth callbacks and app events.
package deeplink

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
)

// Event topics.
const (
	TopicAuthCallback = "auth_callback"
	TopicDeepLink     = "deep_link"
	TopicAuthResult   = "auth_result"
)

// Topics lists every topic a UI may subscribe to.
var Topics = []string{TopicDeepLink, TopicAuthCallback, TopicAuthResult}

const callbackPath = "/auth/callback"

// Parse parses an absolute URL into a DeepLinkEvent and, when the URL is an auth
// redirect, the CallbackData it carries. Repeated query keys keep their first value.
func Parse(raw string) (model.DeepLinkEvent, *model.CallbackData, error) {
	return parseAt(raw, time.Now().UTC())
}

func parseAt(raw string, now time.Time) (model.DeepLinkEvent, *model.CallbackData, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return model.DeepLinkEvent{}, nil, fmt.Errorf("%w: %w", errs.ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return model.DeepLinkEvent{}, nil, fmt.Errorf("%w: url is not absolute", errs.ErrInvalidURL)
	}

	q := u.Query()
	params := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	ev := model.DeepLinkEvent{URL: raw, ParsedParams: params, Timestamp: now}

	_, hasCode := params["code"]
	if !isCallbackPath(u) && !hasCode {
		return ev, nil, nil
	}
	return ev, &model.CallbackData{
		Code:             param(params, "code"),
		State:            param(params, "state"),
		Error:            param(params, "error"),
		ErrorDescription: param(params, "error_description"),
	}, nil
}

// isCallbackPath also matches custom schemes where "auth" lands in the host
// (myapp://auth/callback) or in the opaque part (myapp:auth/callback).
func isCallbackPath(u *url.URL) bool {
	if u.Opaque != "" {
		return strings.Contains("/"+u.Opaque, callbackPath)
	}
	return strings.Contains(u.Path, callbackPath) || strings.Contains("/"+u.Host+u.Path, callbackPath)
}

func param(m map[string]string, k string) *string {
	v, ok := m[k]
	if !ok {
		return nil
	}
	return &v
}
