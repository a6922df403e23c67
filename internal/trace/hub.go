// ABOUTME: WebSocket hub broadcasting the playback rate trace
// ABOUTME: Fans JSON frames out to connected monitors without blocking the driver
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/team-phoenix/phoenix-audio/internal/discovery"
	"github.com/team-phoenix/phoenix-audio/internal/version"
)

// DefaultPath is the HTTP path monitors connect to
const DefaultPath = "/trace"

// Config configures a Hub
type Config struct {
	Name       string
	Port       int  // default 8928
	EnableMDNS bool // advertise as _phoenix-audio._tcp
}

// Hub serves trace frames to WebSocket monitors
type Hub struct {
	config   Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*monitor
	closed  bool

	dropped atomic.Uint64
	wg      sync.WaitGroup
}

type monitor struct {
	id       string
	conn     *websocket.Conn
	sendChan chan []byte
	once     sync.Once
}

func (m *monitor) close() {
	m.once.Do(func() { close(m.sendChan) })
}

// NewHub creates a hub
func NewHub(config Config) *Hub {
	if config.Port == 0 {
		config.Port = 8928
	}
	if config.Name == "" {
		config.Name = "phoenix-audio"
	}

	return &Hub{
		config: config,
		upgrader: websocket.Upgrader{
			// Monitors are local tools
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*monitor),
	}
}

// Handler returns the HTTP handler serving DefaultPath
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DefaultPath, h.handleWebSocket)
	return mux
}

// Start serves until ctx is done
func (h *Hub) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", h.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	if h.config.EnableMDNS {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: h.config.Name,
			Port:        h.config.Port,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			defer disc.Stop()
		}
	}

	server := &http.Server{Handler: h.Handler()}
	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	log.Printf("Trace server listening on %s%s", ln.Addr(), DefaultPath)

	select {
	case <-ctx.Done():
	case err := <-errChan:
		h.shutdown()
		return fmt.Errorf("trace server failed: %w", err)
	}

	h.shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Trace server shutdown error: %v", err)
	}
	h.wg.Wait()
	return nil
}

// shutdown disconnects all monitors and refuses new ones
func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	for id, m := range h.clients {
		m.close()
		m.conn.Close()
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

// Publish queues a frame for every monitor. A monitor that is not keeping up
// loses the frame.
func (h *Hub) Publish(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("Failed to marshal trace frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.clients {
		select {
		case m.sendChan <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected monitors
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames slow monitors missed
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	m := &monitor{
		id:       uuid.New().String(),
		conn:     conn,
		sendChan: make(chan []byte, 64),
	}

	hello, _ := json.Marshal(Frame{
		Type: TypeHello,
		Time: time.Now().UnixMicro(),
		Hello: &Hello{
			Name:    h.config.Name,
			Product: version.Product,
			Version: version.Version,
		},
	})
	m.sendChan <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[m.id] = m
	h.wg.Add(1)
	h.mu.Unlock()

	log.Printf("Trace monitor connected from %s", r.RemoteAddr)

	go func() {
		defer h.wg.Done()
		h.writer(m)
	}()

	// Monitors only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Trace monitor error: %v", err)
			}
			break
		}
	}

	h.remove(m)
	log.Printf("Trace monitor disconnected: %s", r.RemoteAddr)
}

func (h *Hub) remove(m *monitor) {
	h.mu.Lock()
	if _, ok := h.clients[m.id]; ok {
		delete(h.clients, m.id)
		m.close()
	}
	h.mu.Unlock()
}

// writer sends frames to one monitor
func (h *Hub) writer(m *monitor) {
	defer m.conn.Close()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case data, ok := <-m.sendChan:
			if !ok {
				m.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			m.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := m.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}
