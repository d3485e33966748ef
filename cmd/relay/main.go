// Relay: signaling relay entry point.
//
// Accepts WebSocket clients, assigns each a PeerId and forwards signaling
// messages between them. Prometheus metrics are served next to the socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/metrics"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

var version = "dev"

const (
	shutdownTimeout      = 5 * time.Second
	clientReportInterval = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.StringP("config", "c", "", "YAML config file")
	listen := flag.StringP("listen", "l", "", "Listen address (overrides relay.address)")
	pin := flag.String("pin", "", "Require this PIN from clients (overrides relay.pin)")
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

	if *listen != "" {
		cfg.Relay.Address = *listen
	}
	if *pin != "" {
		cfg.Relay.PIN = *pin
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink relay v%s", version))
	pterm.Println()

	if err := run(ctx, cfg.Relay); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("relay stopped")
}

func run(ctx context.Context, cfg config.RelayConfig) error {
	relay := signaling.NewRelay(cfg, metrics.NewPrometheusCollector(), util.LogObserver)
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		util.LogInfo("listening on %s (socket %s, metrics %s)", cfg.Address, cfg.Path, cfg.MetricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		reportClients(ctx, relay, clientReportInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		relay.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// reportClients logs the number of connected clients whenever it changes.
func reportClients(ctx context.Context, relay *signaling.Relay, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := 0
	for {
		select {
		case <-ticker.C:
			if n := relay.Clients(); n != prev {
				util.LogInfo("connected clients: %d", n)
				prev = n
			}
		case <-ctx.Done():
			return
		}
	}
}
