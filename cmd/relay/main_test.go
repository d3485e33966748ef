package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/signaling"
	"github.com/1ureka/peerlink/internal/util"
)

func TestReportClientsStopsOnCancel(t *testing.T) {
	cfg := config.Default().Relay
	relay := signaling.NewRelay(cfg, nil, util.ObserverFunc(func(util.Event) {}))
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+cfg.Path, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return relay.Clients() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reportClients(ctx, relay, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reportClients did not return after cancel")
	}
}
