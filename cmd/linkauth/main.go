// Command linkauth is a CLI client for the linkauthd command API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/linkauth/internal/api"
	"github.com/and161185/linkauth/internal/model"
)

// ---- config dir ----

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "linkauth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "linkauth")
}

func deviceIDPath() string { return filepath.Join(cfgDir(), "device_id") }

// loadOrCreateDeviceID returns the persisted device id, generating one on first use.
func loadOrCreateDeviceID() (string, error) {
	b, err := os.ReadFile(deviceIDPath())
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	v, err := u.NewV4()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(deviceIDPath(), []byte(v.String()), 0o600); err != nil {
		return "", err
	}
	return v.String(), nil
}

// ---- grpc dial ----

// The daemon only listens on loopback, so the channel is plaintext.
func dial(addr string) (*grpc.ClientConn, *api.CommandsClient, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return cc, api.NewCommandsClient(cc), nil
}

// commands is the part of the command API the CLI drives.
type commands interface {
	CreateSession(ctx context.Context, in *api.CreateSessionRequest, opts ...grpc.CallOption) (*api.CreateSessionResponse, error)
	HandleCallback(ctx context.Context, in *api.HandleCallbackRequest, opts ...grpc.CallOption) (*api.HandleCallbackResponse, error)
	ClearSession(ctx context.Context, in *api.ClearSessionRequest, opts ...grpc.CallOption) (*api.Empty, error)
	ClearAllSessions(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.Empty, error)
	GetSession(ctx context.Context, in *api.GetSessionRequest, opts ...grpc.CallOption) (*api.GetSessionResponse, error)
	OpenAuthURL(ctx context.Context, in *api.OpenAuthURLRequest, opts ...grpc.CallOption) (*api.Empty, error)
	DeliverDeepLink(ctx context.Context, in *api.DeliverDeepLinkRequest, opts ...grpc.CallOption) (*api.Empty, error)
	CurrentDeepLink(ctx context.Context, in *api.Empty, opts ...grpc.CallOption) (*api.CurrentDeepLinkResponse, error)
	SubscribeEvents(ctx context.Context, in *api.SubscribeEventsRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[api.Event], error)
}

var _ commands = (*api.CommandsClient)(nil)

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// desktopEntry renders a freedesktop entry registering execPath as the handler for scheme.
func desktopEntry(scheme, execPath, addr string) string {
	return fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=linkauth
Comment=Deliver %[1]s:// links to linkauthd
Exec=%[2]s -addr %[3]s deliver %%u
Terminal=false
NoDisplay=true
MimeType=x-scheme-handler/%[1]s;
`, scheme, execPath, addr)
}

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, `linkauth CLI
Usage:
  linkauth [-addr HOST:PORT] [-timeout D] <cmd> [args]

Commands:
  version
  create         [-device-id id] [-name n] [-platform p] [-open]
  get            -id <session> -state <state> [-device-id id]
  clear          -id <session>
  clear-all
  callback       -url <url|->
  open           -url <url>
  deliver        <url>                 (OS deep-link handler entry point)
  current
  watch          [-topics deep_link,auth_callback,auth_result]   (runs until interrupted)
  scheme-desktop [-scheme s] [-exec path]
`)
}

// ---- commands ----

func execute(ctx context.Context, cli commands, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		deviceID := fs.String("device-id", "", "device id (default: persisted id)")
		host, _ := os.Hostname()
		name := fs.String("name", host, "device name")
		platform := fs.String("platform", runtime.GOOS, "platform")
		open := fs.Bool("open", false, "open the authorization URL in the browser")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *deviceID == "" {
			id, err := loadOrCreateDeviceID()
			if err != nil {
				return err
			}
			*deviceID = id
		}
		resp, err := cli.CreateSession(ctx, &api.CreateSessionRequest{Device: model.DeviceInfo{
			DeviceID:   *deviceID,
			DeviceName: *name,
			Platform:   *platform,
		}})
		if err != nil {
			return err
		}
		if *open {
			if resp.AuthURL == "" {
				return errors.New("daemon has no authorization endpoint configured")
			}
			if _, err := cli.OpenAuthURL(ctx, &api.OpenAuthURLRequest{URL: resp.AuthURL}); err != nil {
				return err
			}
		}
		printJSON(out, resp)

	case "get":
		fs := flag.NewFlagSet("get", flag.ContinueOnError)
		id := fs.String("id", "", "session id")
		state := fs.String("state", "", "session state")
		deviceID := fs.String("device-id", "", "device id (default: persisted id)")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *id == "" || *state == "" {
			return fmt.Errorf("%w: need -id and -state", errUsage)
		}
		if *deviceID == "" {
			d, err := loadOrCreateDeviceID()
			if err != nil {
				return err
			}
			*deviceID = d
		}
		resp, err := cli.GetSession(ctx, &api.GetSessionRequest{SessionID: *id, DeviceID: *deviceID, State: *state})
		if err != nil {
			return err
		}
		if !resp.Found {
			return errors.New("session not found")
		}
		printJSON(out, resp.Session)

	case "clear":
		fs := flag.NewFlagSet("clear", flag.ContinueOnError)
		id := fs.String("id", "", "session id")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *id == "" {
			return fmt.Errorf("%w: need -id", errUsage)
		}
		if _, err := cli.ClearSession(ctx, &api.ClearSessionRequest{SessionID: *id}); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "clear-all":
		if _, err := cli.ClearAllSessions(ctx, &api.Empty{}); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "callback":
		fs := flag.NewFlagSet("callback", flag.ContinueOnError)
		raw := fs.String("url", "", "callback URL ('-'=stdin)")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *raw == "" {
			return fmt.Errorf("%w: need -url", errUsage)
		}
		if *raw == "-" {
			b, err := readAll("-")
			if err != nil {
				return err
			}
			*raw = strings.TrimSpace(string(b))
		}
		resp, err := cli.HandleCallback(ctx, &api.HandleCallbackRequest{URL: *raw})
		if err != nil {
			return err
		}
		printJSON(out, resp.Session)

	case "open":
		fs := flag.NewFlagSet("open", flag.ContinueOnError)
		raw := fs.String("url", "", "authorization URL")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		if *raw == "" {
			return fmt.Errorf("%w: need -url", errUsage)
		}
		if _, err := cli.OpenAuthURL(ctx, &api.OpenAuthURLRequest{URL: *raw}); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "deliver":
		if len(args) != 1 || args[0] == "" {
			return fmt.Errorf("%w: need exactly one url", errUsage)
		}
		if _, err := cli.DeliverDeepLink(ctx, &api.DeliverDeepLinkRequest{URL: args[0]}); err != nil {
			return err
		}

	case "current":
		resp, err := cli.CurrentDeepLink(ctx, &api.Empty{})
		if err != nil {
			return err
		}
		printJSON(out, resp)

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ContinueOnError)
		topics := fs.String("topics", "", "comma-separated topics (default: all)")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		req := &api.SubscribeEventsRequest{}
		if *topics != "" {
			req.Topics = strings.Split(*topics, ",")
		}
		stream, err := cli.SubscribeEvents(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for {
			ev, err := stream.Recv()
			if errors.Is(err, io.EOF) || (err != nil && ctx.Err() != nil) {
				return nil
			}
			if err != nil {
				return err
			}
			_ = enc.Encode(ev)
		}

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:47600", "linkauthd command API address")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("linkauth %s (%s)\n", version, buildDate)
		return
	case "scheme-desktop":
		fs := flag.NewFlagSet("scheme-desktop", flag.ExitOnError)
		scheme := fs.String("scheme", "linkauth", "URL scheme")
		self, _ := os.Executable()
		execPath := fs.String("exec", self, "path to the linkauth binary")
		_ = fs.Parse(args)
		fmt.Print(desktopEntry(*scheme, *execPath, *addr))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	if cmd == "watch" {
		cancel()
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	defer cancel()

	cc, cli, err := dial(*addr)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	if err := execute(ctx, cli, cmd, args, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			usage()
			os.Exit(2)
		}
		fail(err)
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
