package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event types pushed to dashboard clients.
const (
	EventFileChanged    = "file_changed"
	EventJobFinished    = "job_finished"
	EventStatsGenerated = "stats_generated"
)

// Event is the JSON message broadcast to every client.
type Event struct {
	Type string    `json:"type"`
	Path string    `json:"path,omitempty"`
	Time time.Time `json:"time"`

	Data interface{} `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server upgrades /ws/updates requests and publishes events to the hub.
type Server struct {
	hub    *Hub
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer creates a websocket endpoint backed by hub.
func NewServer(hub *Hub, logger zerolog.Logger) *Server {
	return &Server{hub: hub, logger: logger, now: time.Now}
}

// Hub returns the hub the server registers clients with.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP handles websocket connections for update notifications.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		remote: r.RemoteAddr,
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Publish stamps ev and broadcasts it to every client.
func (s *Server) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return
	}
	s.hub.Broadcast(data)
}
