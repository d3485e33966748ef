// Peerlink: CLI entry point.
//
// Connects to a signaling relay, prints the PeerId the relay assigned and
// opens a WebRTC data channel to another peer. Lines read from stdin are sent
// over the channel; received payloads are printed.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (--relay, --to, --config).
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/peer"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/transport"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.StringP("config", "c", "", "YAML config file")
	relayURL := flag.StringP("relay", "r", "", "Relay WebSocket URL (overrides signaling.url)")
	pin := flag.String("pin", "", "Relay PIN, if the relay requires one")
	to := flag.StringP("to", "t", "", "PeerId to connect to as Caller")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.SetLevel(cfg.Log.Level)
	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink v%s", version))
	pterm.Println()

	if flag.NFlag() == 0 {
		// No flags: interactive mode.
		*relayURL = askURL(cfg.Signaling.URL)
		*to = askPeer()
	}

	if *relayURL != "" {
		cfg.Signaling.URL = *relayURL
	}
	if cfg.Signaling.URL, err = withPIN(cfg.Signaling.URL, *pin); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, signaling.PeerID(*to)); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed peer connections")
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// session tracks which peer stdin lines are sent to.
type session struct {
	mu     sync.Mutex
	target signaling.PeerID
}

func (s *session) get() signaling.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// set switches the target; adopt only fills it when empty.
func (s *session) set(id signaling.PeerID, adopt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if adopt && s.target != "" {
		return
	}
	s.target = id
}

func run(ctx context.Context, cfg *config.Config, to signaling.PeerID) error {
	g, ctx := errgroup.WithContext(ctx)

	client := signaling.NewClient(cfg.Signaling, util.LogObserver)
	sess := &session{target: to}

	m := peer.NewManager(ctx, peer.Options{
		Signal:        client,
		NewNegotiator: transport.NewFactory(cfg).New,
		Policy:        peer.PolicyFromConfig(cfg.Reconnect),
		Label:         cfg.Channel.Label,
		Observer:      util.LogObserver,
		OnMessage: func(from signaling.PeerID, data []byte) {
			sess.set(from, true)
			pterm.Printfln("%s %s", pterm.FgCyan.Sprint(shortID(from)+">"), string(data))
		},
	})
	defer m.Close()

	connected := make(chan struct{})
	var once sync.Once
	client.OnHello(func(id signaling.PeerID) {
		m.SetLocalID(id)
		pterm.Success.Printfln("registered with relay as %s", id)
		once.Do(func() { close(connected) })
	})

	g.Go(func() error {
		return client.Run(ctx, m.HandleSignal)
	})

	g.Go(func() error {
		select {
		case <-connected:
		case <-ctx.Done():
			return ctx.Err()
		}
		if to == "" {
			util.LogInfo("waiting for a peer to connect (type /connect <id> to dial)")
			return nil
		}
		return m.Connect(to)
	})

	util.StartStatsReporter(ctx, 5*time.Second)

	// Stdin never unblocks on cancel, so it stays outside the group.
	go readLines(ctx, m, sess)

	return g.Wait()
}

// readLines handles commands and payload lines from stdin.
func readLines(ctx context.Context, m *peer.Manager, sess *session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "/connect "):
			id := signaling.PeerID(strings.TrimSpace(strings.TrimPrefix(line, "/connect ")))
			sess.set(id, false)
			if err := m.Connect(id); err != nil {
				util.LogError("connect %s: %v", id, err)
			}

		case line == "/peers":
			for _, st := range m.Peers() {
				pterm.Printfln("%s  %-6s  %-12s  channel=%s", st.ID, st.Role, st.State, st.Channel)
			}

		case line == "/close":
			if id := sess.get(); id != "" {
				if err := m.Discard(id); err != nil {
					util.LogWarning("close %s: %v", id, err)
				}
				sess.set("", false)
			}

		case line == "":

		default:
			id := sess.get()
			if id == "" {
				util.LogWarning("no peer selected: use /connect <id>")
				continue
			}
			if err := m.Send(id, []byte(line)); err != nil {
				util.LogWarning("message not sent: %v", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// withPIN adds the relay PIN to the URL query.
func withPIN(raw, pin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid relay URL scheme %q: want ws or wss", u.Scheme)
	}
	if pin != "" {
		q := u.Query()
		q.Set("pin", pin)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func shortID(id signaling.PeerID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// askURL prompts for the relay URL until a valid one is entered.
func askURL(def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL").
			WithDefaultValue(def).
			Show()

		if _, err := withPIN(raw, ""); err == nil {
			pterm.Println()
			return strings.TrimSpace(raw)
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a ws:// or wss:// URL")
	}
}

// askPeer prompts for the PeerId to dial. Empty means wait to be called.
func askPeer() string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("PeerId to connect to (empty to wait)").
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
