// Package statusapi exposes a read-only websocket feed of block height
// events for local monitoring. It sits outside the consensus-critical
// path: nothing here can block block production or sync.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pos-ledger/node/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one status update pushed to every connected client.
type Event struct {
	Height    uint64 `json:"height"`
	Validator string `json:"validator"`
	Timestamp int64  `json:"timestamp"`
}

// Server serves the websocket feed over a single /status endpoint.
type Server struct {
	addr string
	log  *logging.Logger
	http *http.Server

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast chan Event
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds a status feed server listening on addr (e.g. ":7070").
func New(addr string) *Server {
	s := &Server{
		addr:      addr,
		log:       logging.GetDefault().Component("statusapi"),
		clients:   make(map[*client]bool),
		broadcast: make(chan Event, 64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleWS)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the broadcast loop and the HTTP listener until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.http.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}

// Publish broadcasts a status event to every connected client. Safe to
// call even if no server is running or no clients are connected.
func (s *Server) Publish(ev Event) {
	select {
	case s.broadcast <- ev:
	default:
		s.log.Warn("status broadcast buffer full, dropping event", "height", ev.Height)
	}
}

func (s *Server) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.broadcast:
			ev.Timestamp = time.Now().Unix()
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			s.mu.RLock()
			for c := range s.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}
