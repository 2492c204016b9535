package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"

	"github.com/IRCAD/sight-sub083/pkg/api/events"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32

	// Clients only send filter updates.
	maxClientMessage = 4 << 10
)

var (
	errTooManyClients = errors.New("websocket connection limit reached")
	errHandlerClosed  = errors.New("websocket handler closed")
)

// WebSocketConfig configures the registry event stream.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	SendBuffer     int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultWSMaxConnections
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// filterUpdate is what a client sends to narrow or widen its stream:
//
//	{"type": "subscribe", "service_id": "reader"}
//	{"type": "subscribe", "event": "registry.output_registered"}
//	{"type": "unsubscribe", "service_id": "reader"}
//	{"type": "reset"}
type filterUpdate struct {
	Type      string `json:"type"`
	ServiceID string `json:"service_id,omitempty"`
	Event     string `json:"event,omitempty"`
}

// eventFilter selects events by service and by event type. An empty set
// does not restrict its dimension.
type eventFilter struct {
	services mapset.Set[string]
	types    mapset.Set[string]
}

func newEventFilter() *eventFilter {
	return &eventFilter{services: mapset.NewSet[string](), types: mapset.NewSet[string]()}
}

func (f *eventFilter) apply(u filterUpdate) {
	service, event := strings.TrimSpace(u.ServiceID), strings.TrimSpace(u.Event)
	switch strings.ToLower(strings.TrimSpace(u.Type)) {
	case "subscribe":
		if service != "" {
			f.services.Add(service)
		}
		if event != "" {
			f.types.Add(event)
		}
	case "unsubscribe":
		f.services.Remove(service)
		f.types.Remove(event)
	case "reset":
		f.services.Clear()
		f.types.Clear()
	}
}

func (f *eventFilter) match(eventType, serviceID string) bool {
	if f.types.Cardinality() > 0 && !f.types.Contains(eventType) {
		return false
	}
	if f.services.Cardinality() == 0 {
		return true
	}
	return serviceID != "" && f.services.Contains(serviceID)
}

type wsClient struct {
	conn   *websocket.Conn
	out    chan []byte
	filter *eventFilter
	once   sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &wsClient{conn: conn, out: make(chan []byte, buffer), filter: newEventFilter()}
}

// close ends the write loop, which sends the close frame.
func (c *wsClient) close() {
	c.once.Do(func() { close(c.out) })
}

// WebSocketHandler streams registry events on /ws/registry. Each client
// owns a bounded queue; a client that lets it fill up is disconnected
// rather than slowing the others down.
type WebSocketHandler struct {
	cfg      WebSocketConfig
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool

	attached bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWebSocketHandler creates a handler; zero config fields take defaults.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	cfg = cfg.withDefaults()
	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		cfg: cfg,
		log: logger.OrComponent(log, "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(r, origins) },
		},
		clients: make(map[*wsClient]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Attach forwards every event of b to the clients until Close. Call it
// once, before serving.
func (h *WebSocketHandler) Attach(b *events.Broadcaster) {
	sub := b.Subscribe(h.cfg.SendBuffer)
	h.attached = true
	go func() {
		defer close(h.done)
		defer sub.Close()
		for {
			select {
			case <-h.stop:
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := h.Broadcast(ev); err != nil {
					h.log.Warn("Event not forwarded", "type", ev.Type, "error", err)
				}
			}
		}
	}()
}

func (h *WebSocketHandler) admit(c *wsClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return errHandlerClosed
	case len(h.clients) >= h.cfg.MaxConnections:
		return errTooManyClients
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *WebSocketHandler) drop(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *WebSocketHandler) full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || len(h.clients) >= h.cfg.MaxConnections
}

// ServeHTTP upgrades the connection and streams events until the client
// leaves or the handler is closed.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if h.full() {
		http.Error(w, errTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		h.log.Debug("Websocket upgrade refused", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newWSClient(conn, h.cfg.SendBuffer)
	if err := h.admit(c); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	h.log.Debug("Websocket client connected", "remote_addr", r.RemoteAddr, "clients", h.Clients())

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *WebSocketHandler) readLoop(c *wsClient) {
	defer h.drop(c)

	wait := h.cfg.PingInterval + h.cfg.PongTimeout
	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("Websocket read failed", "error", err)
			}
			return
		}
		var u filterUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		c.filter.apply(u)
	}
}

func (h *WebSocketHandler) writeLoop(c *wsClient) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ping.Stop()
		h.drop(c)
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.out:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if !ok {
				bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.conn.WriteControl(websocket.CloseMessage, bye, deadline)
				return
			}
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Broadcast queues ev for every client whose filter matches it.
func (h *WebSocketHandler) Broadcast(ev events.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	service := serviceIDOf(ev.Payload)

	var slow []*wsClient
	// Queues are only closed after their client left the map, so sending
	// under the read lock is safe.
	h.mu.RLock()
	for c := range h.clients {
		if !c.filter.match(ev.Type, service) {
			continue
		}
		select {
		case c.out <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("Dropping slow websocket client", "queue", cap(c.out))
		h.drop(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *WebSocketHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops forwarding and disconnects every client. New connections are
// refused afterwards.
func (h *WebSocketHandler) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.attached {
		<-h.done
	}

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func serviceIDOf(payload any) string {
	switch p := payload.(type) {
	case events.OutputPayload:
		return p.ServiceID
	case events.ServicePayload:
		return p.ServiceID
	case map[string]any:
		id, _ := p["service_id"].(string)
		return id
	case map[string]string:
		return p["service_id"]
	}
	return ""
}

// originAllowed accepts requests without Origin, listed origins, "*", and
// same-host origins.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}
