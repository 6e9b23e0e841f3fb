// Command auractl is a debug client for a running aura gateway. It talks to
// the agent bridge and mints room tokens.
//
//	auractl [-bridge ws://localhost:8765] <command> [args]
//
// Commands:
//
//	query TEXT          send a query frame, as the pipeline would
//	response TEXT       send an agent reply; the gateway speaks it
//	transcript          print bridge frames until interrupted
//	test [TEXT]         ask the bridge to broadcast a test transcript
//	token [-identity ID] [-room NAME]
//	                    mint an access token from LIVEKIT_API_KEY/SECRET
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yalda00/nexhacks-aura2.0/internal/bridge"
	"github.com/yalda00/nexhacks-aura2.0/internal/token"
)

const defaultBridgeURL = "ws://localhost:8765"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "auractl: load .env: %v\n", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv))
}

// cli carries the shared flags and output streams of one invocation.
type cli struct {
	bridgeURL string
	timeout   time.Duration
	stdout    io.Writer
	lookup    func(string) (string, bool)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	fset := flag.NewFlagSet("auractl", flag.ContinueOnError)
	fset.SetOutput(stderr)
	c := &cli{stdout: stdout, lookup: lookup}
	fset.StringVar(&c.bridgeURL, "bridge", envOr(lookup, "AURA_BRIDGE_URL", defaultBridgeURL), "bridge WebSocket URL")
	fset.DurationVar(&c.timeout, "timeout", 10*time.Second, "dial and send timeout")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: auractl [-bridge URL] [-timeout D] query|response|transcript|test|token [args]")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() == 0 {
		fset.Usage()
		return 2
	}

	cmd, rest := fset.Arg(0), fset.Args()[1:]
	var err error
	switch cmd {
	case "query":
		err = c.send(ctx, rest, func(text string) bridge.Message { return bridge.QueryMessage(text) })
	case "response":
		err = c.send(ctx, rest, func(text string) bridge.Message { return bridge.TextMessage(bridge.TypeResponse, text) })
	case "transcript":
		err = c.watch(ctx)
	case "test":
		err = c.test(ctx, strings.Join(rest, " "))
	case "token":
		err = c.token(rest, stderr)
	default:
		fmt.Fprintf(stderr, "auractl: unknown command %q\n", cmd)
		fset.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "auractl: %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// send dials the bridge and writes one frame built from the joined args.
func (c *cli) send(ctx context.Context, args []string, build func(string) bridge.Message) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("text is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := bridge.Dial(ctx, c.bridgeURL)
	if err != nil {
		return err
	}
	defer client.Close()

	msg := build(text)
	if err := client.Send(ctx, msg); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "sent %s: %s\n", msg.Type, text)
	return nil
}

// watch prints every frame the bridge broadcasts until ctx is done.
func (c *cli) watch(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	client, err := bridge.Dial(dctx, c.bridgeURL)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(c.stdout, "connected to %s\n", c.bridgeURL)
	for {
		msg, err := client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintln(c.stdout, describe(msg))
	}
}

// describe renders one frame for the terminal. Audio is summarised by size.
func describe(m bridge.Message) string {
	if m.Type == bridge.TypeAudio {
		var b64 string
		if err := json.Unmarshal(m.Content, &b64); err == nil {
			if raw, err := base64.StdEncoding.DecodeString(b64); err == nil {
				return fmt.Sprintf("[%s] %d bytes", m.Type, len(raw))
			}
		}
	}
	if text := m.Text(); text != "" {
		return fmt.Sprintf("[%s] %s", m.Type, text)
	}
	return fmt.Sprintf("[%s] %s", m.Type, string(m.Content))
}

// test calls the bridge's GET /test endpoint and prints its JSON reply.
func (c *cli) test(ctx context.Context, text string) error {
	u, err := httpURL(c.bridgeURL, "/test")
	if err != nil {
		return err
	}
	if text != "" {
		q := u.Query()
		q.Set("message", text)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Fprint(c.stdout, string(body))
	return nil
}

// httpURL maps a ws:// or wss:// bridge URL to the http(s) URL of path.
func httpURL(raw, path string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported bridge scheme %q", u.Scheme)
	}
	u.Path = path
	u.RawQuery = ""
	return u, nil
}

// token mints a token locally with the key pair from the environment.
func (c *cli) token(args []string, stderr io.Writer) error {
	fset := flag.NewFlagSet("token", flag.ContinueOnError)
	fset.SetOutput(stderr)
	identity := fset.String("identity", token.DefaultIdentity, "participant identity")
	room := fset.String("room", envOr(c.lookup, "LIVEKIT_ROOM", token.DefaultRoom), "room name")
	ttl := fset.Duration("ttl", token.DefaultTTL, "token lifetime")
	if err := fset.Parse(args); err != nil {
		return err
	}

	issuer := &token.Issuer{
		APIKey:    envOr(c.lookup, "LIVEKIT_API_KEY", ""),
		APISecret: envOr(c.lookup, "LIVEKIT_API_SECRET", ""),
		TTL:       *ttl,
	}
	tok, err := issuer.Mint(*identity, *room)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, tok)
	return nil
}

func envOr(lookup func(string) (string, bool), key, fallback string) string {
	if lookup != nil {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}
