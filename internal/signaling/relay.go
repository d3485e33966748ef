package signaling

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/config"
	"github.com/1ureka/peerlink/internal/metrics"
	"github.com/1ureka/peerlink/internal/util"
)

const relayWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Relay is a stateless signaling hub. Every WebSocket client gets a fresh
// PeerID; a signal is forwarded verbatim to its "to" peer with "sender"
// overwritten by the relay. Nothing is stored or fanned out.
type Relay struct {
	cfg     config.RelayConfig
	metrics metrics.Collector
	obs     util.Observer

	mu      sync.RWMutex
	clients map[PeerID]*relayClient
}

// relayClient is one connected WebSocket; writes are serialized by mu.
type relayClient struct {
	id   PeerID
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *relayClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewRelay creates a relay. A nil collector gets a private Prometheus one.
func NewRelay(cfg config.RelayConfig, m metrics.Collector, obs util.Observer) *Relay {
	if m == nil {
		m = metrics.NewPrometheusCollector()
	}
	if obs == nil {
		obs = util.LogObserver
	}
	return &Relay{
		cfg:     cfg,
		metrics: m,
		obs:     obs,
		clients: make(map[PeerID]*relayClient),
	}
}

// Handler routes the WebSocket endpoint, the metrics endpoint and /healthz.
func (r *Relay) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc(r.cfg.Path, r.handleWS).Methods(http.MethodGet)
	if r.cfg.MetricsPath != "" {
		router.Handle(r.cfg.MetricsPath, r.metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

// Clients returns the number of connected clients.
func (r *Relay) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close disconnects every client. The HTTP server is owned by the caller.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.conn.Close()
	}
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	if r.cfg.PIN != "" && req.URL.Query().Get("pin") != r.cfg.PIN {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	c := &relayClient{id: PeerID(uuid.NewString()), conn: conn}
	r.register(c)
	defer r.unregister(c)

	hello, _ := json.Marshal(Message{Type: TypeHello, ID: c.id})
	if err := c.write(hello); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.forward(c, data)
	}
}

func (r *Relay) register(c *relayClient) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	r.metrics.ClientConnected()
	r.obs.Observe(util.Event{
		Severity: util.SeverityInfo,
		Category: util.CategorySignaling,
		Peer:     string(c.id),
		Message:  "client connected",
	})
}

func (r *Relay) unregister(c *relayClient) {
	r.mu.Lock()
	delete(r.clients, c.id)
	r.mu.Unlock()

	c.conn.Close()
	r.metrics.ClientDisconnected()
	r.obs.Observe(util.Event{
		Severity: util.SeverityInfo,
		Category: util.CategorySignaling,
		Peer:     string(c.id),
		Message:  "client disconnected",
	})
}

// forward routes a raw frame by its envelope only; sdp/ice are passed through
// untouched.
func (r *Relay) forward(from *relayClient, data []byte) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		r.metrics.MessageDropped(metrics.DropMalformed)
		return
	}

	var typ MessageType
	var to PeerID
	json.Unmarshal(envelope["type"], &typ)
	json.Unmarshal(envelope["to"], &to)
	if typ != TypeSignal || to == "" {
		r.metrics.MessageDropped(metrics.DropMalformed)
		return
	}

	envelope["sender"], _ = json.Marshal(from.id)
	out, err := json.Marshal(envelope)
	if err != nil {
		r.metrics.MessageDropped(metrics.DropMalformed)
		return
	}

	r.mu.RLock()
	target := r.clients[to]
	r.mu.RUnlock()

	if target == nil {
		r.metrics.MessageDropped(metrics.DropUnknownRecipient)
		r.obs.Observe(util.Event{
			Severity: util.SeverityDebug,
			Category: util.CategorySignaling,
			Peer:     string(to),
			Message:  "dropping signal for unknown recipient",
		})
		return
	}

	if err := target.write(out); err != nil {
		r.metrics.MessageDropped(metrics.DropWriteFailed)
		return
	}
	r.metrics.MessageRelayed(len(out))
}
