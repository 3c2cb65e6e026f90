package ocppj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	cs "github.com/codewandler/chargebridge/domain/chargingstation"
)

const (
	// Subprotocol is the websocket subprotocol stations must request.
	Subprotocol = "ocpp1.5"
	// Path is the websocket endpoint; the last segment is the station id.
	Path = "/ocpp/:id"
)

var ErrNotConnected = errors.New("charging station not connected")

// Relay moves frames between instances. The instance holding a station's
// connection serves it; any other instance forwards to it.
type Relay interface {
	Serve(ctx context.Context, id cs.ChargingStationID, deliver func(ctx context.Context, data []byte) error) (stop func(), err error)
	Forward(ctx context.Context, id cs.ChargingStationID, data []byte) error
}

// MessageFunc handles one frame read from a station connection.
type MessageFunc func(ctx context.Context, c *Conn, f Frame)

// Conn is the websocket of one charging station. Writes are serialized.
type Conn struct {
	id           cs.ChargingStationID
	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex

	closeMu   sync.Mutex
	closed    bool
	stopRelay func()
}

func (c *Conn) StationID() cs.ChargingStationID { return c.id }

func (c *Conn) setStop(stop func()) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		stop()
		return
	}
	c.stopRelay = stop
	c.closeMu.Unlock()
}

// close stops relaying for the connection and closes the socket. Safe to call
// more than once.
func (c *Conn) close() {
	c.closeMu.Lock()
	stop := c.stopRelay
	c.stopRelay = nil
	c.closed = true
	c.closeMu.Unlock()
	if stop != nil {
		stop()
	}
	_ = c.ws.Close()
}

func (c *Conn) Write(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub accepts station websockets and keeps the latest connection per
// station. A reconnecting station replaces its previous connection.
type Hub struct {
	upgrader     websocket.Upgrader
	onMessage    MessageFunc
	relay        Relay
	writeTimeout time.Duration
	log          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	conns map[cs.ChargingStationID]*Conn
}

// NewHub creates a hub. relay may be nil for a single instance deployment.
func NewHub(onMessage MessageFunc, relay Relay, writeTimeout time.Duration, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			// stations are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		onMessage:    onMessage,
		relay:        relay,
		writeTimeout: writeTimeout,
		log:          log.With(slog.String("component", "ocppj.hub")),
		ctx:          ctx,
		cancel:       cancel,
		conns:        map[cs.ChargingStationID]*Conn{},
	}
}

func (h *Hub) Register(router *httprouter.Router) {
	router.GET(Path, h.handleWS)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := cs.ChargingStationID(params.ByName("id"))
	if err := id.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !slices.Contains(websocket.Subprotocols(r), Subprotocol) {
		http.Error(w, fmt.Sprintf("subprotocol %s required", Subprotocol), http.StatusBadRequest)
		return
	}
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", slog.String("station_id", id.String()), slog.Any("error", err))
		return
	}

	c := &Conn{id: id, ws: ws, writeTimeout: h.writeTimeout}
	h.mu.Lock()
	// Close cancels before it takes the lock, so a conn registered here is
	// either closed and waited for by Close or never registered at all.
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	old, replaced := h.conns[id]
	h.conns[id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	if replaced {
		h.log.Info("station reconnected, closing previous connection", slog.String("station_id", id.String()))
		old.close()
	}

	if h.relay != nil {
		stop, err := h.relay.Serve(h.ctx, id, func(_ context.Context, data []byte) error {
			f, err := ParseFrame(data)
			if err != nil {
				return err
			}
			return c.Write(f)
		})
		if err != nil {
			h.log.Error("serve relay", slog.String("station_id", id.String()), slog.Any("error", err))
		} else {
			c.setStop(stop)
		}
	}

	h.log.Info("station connected", slog.String("station_id", id.String()), slog.String("remote", r.RemoteAddr))
	go h.read(c)
}

func (h *Hub) read(c *Conn) {
	defer h.wg.Done()
	defer h.remove(c)

	log := h.log.With(slog.String("station_id", c.id.String()))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("station left")
			} else {
				log.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		log.Debug("in", slog.String("data", string(data)))

		f, err := ParseFrame(data)
		if err != nil {
			log.Warn("dropping malformed frame", slog.Any("error", err))
			continue
		}
		h.onMessage(h.ctx, c, f)
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// Send writes f to the station's connection, forwarding through the relay
// when another instance holds it.
func (h *Hub) Send(ctx context.Context, id cs.ChargingStationID, f Frame) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if ok {
		return c.Write(f)
	}
	if h.relay == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, id)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := h.relay.Forward(ctx, id, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotConnected, id, err)
	}
	h.log.Debug("forwarded", slog.String("station_id", id.String()), slog.String("message_id", f.ID))
	return nil
}

func (h *Hub) Connected(id cs.ChargingStationID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Close drops every connection and waits for the readers to exit.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}
