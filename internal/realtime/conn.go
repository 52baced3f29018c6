// Package realtime carries room events over websocket connections and reads
// the small client protocol used to join rooms and relay alerts.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/metrics"
	"jagruk/preparedness/internal/rooms"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Conn is one websocket connection. It implements rooms.Client.
type Conn struct {
	id       string
	identity auth.Identity
	ws       *websocket.Conn
	send     chan rooms.Message
	done     chan struct{}
	once     sync.Once
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Identity() auth.Identity {
	return c.identity
}

// Deliver queues msg without blocking. A full buffer or a closed connection
// drops the message.
func (c *Conn) Deliver(msg rooms.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Server upgrades authenticated requests and runs their pumps.
type Server struct {
	hub      *rooms.Hub
	pub      rooms.Publisher
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewServer joins connections to hub and sends relayed client events
// through pub, which is the hub itself or a relay wrapping it.
func NewServer(hub *rooms.Hub, pub rooms.Publisher, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = hub
	}
	opts = opts.withDefaults()
	s := &Server{hub: hub, pub: pub, log: log, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		return set[strings.TrimRight(origin, "/")]
	}
}

// Accept upgrades the request for an already verified identity and blocks
// until the connection ends.
func (s *Server) Accept(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.Serve(r.Context(), ws, id)
}

// Serve runs the read and write pumps of ws until either side closes.
func (s *Server) Serve(ctx context.Context, ws *websocket.Conn, id auth.Identity) {
	c := &Conn{
		id:       uuid.NewString(),
		identity: id,
		ws:       ws,
		send:     make(chan rooms.Message, s.opts.SendBuffer),
		done:     make(chan struct{}),
	}
	metrics.Connections.Inc()
	s.wg.Add(1)
	log := s.log.With(zap.String("conn", c.id), zap.String("user", id.UserID), zap.String("school", id.SchoolID))
	log.Debug("websocket connected")
	if id.IsStaff() {
		if err := s.hub.Join(c, rooms.Staff(id.SchoolID)); err != nil {
			log.Warn("staff room join failed", zap.Error(err))
		}
	}

	defer func() {
		n := s.hub.LeaveAll(c)
		c.close()
		metrics.Connections.Dec()
		s.wg.Done()
		log.Debug("websocket disconnected", zap.Int("rooms", n))
	}()

	go s.writePump(c)
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()
	s.readPump(c, log)
}

func (s *Server) readPump(c *Conn, log *zap.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	pongWait := s.opts.PingInterval * 2
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		var msg rooms.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			s.reply(c, errorEvent(invalidFrame()))
			continue
		}
		s.handle(c, msg)
	}
}

func (s *Server) writePump(c *Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Wait blocks until every served connection has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
