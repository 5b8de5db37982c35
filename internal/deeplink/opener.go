package deeplink

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/and161185/linkauth/internal/errs"
	"go.uber.org/zap"
)

// ValidateAuthURL accepts https URLs and http URLs on localhost or 127.0.0.1.
func ValidateAuthURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "https":
		if u.Host == "" {
			return fmt.Errorf("%w: missing host", errs.ErrInvalidURL)
		}
		return nil
	case "http":
		host := u.Hostname()
		if host == "" {
			return fmt.Errorf("%w: missing host", errs.ErrInvalidURL)
		}
		if host != "localhost" && host != "127.0.0.1" {
			return fmt.Errorf("%w: http only allowed for localhost", errs.ErrInvalidURL)
		}
		return nil
	default:
		return fmt.Errorf("%w: only http(s) urls allowed", errs.ErrInvalidURL)
	}
}

// BrowserLauncher opens a URL outside the process.
type BrowserLauncher interface {
	Launch(ctx context.Context, url string) error
}

// SystemBrowser launches the platform's default URL handler.
type SystemBrowser struct {
	GOOS  string
	start func(ctx context.Context, name string, args ...string) error
}

// NewSystemBrowser returns a launcher for the running platform.
func NewSystemBrowser() *SystemBrowser {
	return &SystemBrowser{GOOS: runtime.GOOS, start: startCommand}
}

func startCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func browserCommand(goos, u string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{u}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", u}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		return "xdg-open", []string{u}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// Launch starts the browser without waiting for it to exit.
func (b *SystemBrowser) Launch(ctx context.Context, u string) error {
	name, args, err := browserCommand(b.GOOS, u)
	if err != nil {
		return err
	}
	start := b.start
	if start == nil {
		start = startCommand
	}
	return start(context.WithoutCancel(ctx), name, args...)
}

// Opener validates auth URLs before handing them to a BrowserLauncher.
type Opener struct {
	launcher BrowserLauncher
	log      *zap.Logger
}

// NewOpener constructs an Opener.
func NewOpener(l BrowserLauncher, log *zap.Logger) *Opener {
	return &Opener{launcher: l, log: log}
}

// OpenAuthURL validates raw and opens it in the browser.
func (o *Opener) OpenAuthURL(ctx context.Context, raw string) error {
	if err := ValidateAuthURL(raw); err != nil {
		return err
	}
	if err := o.launcher.Launch(ctx, raw); err != nil {
		return fmt.Errorf("%w: open browser: %w", errs.ErrDeepLink, err)
	}
	o.log.Info("auth url opened")
	return nil
}
