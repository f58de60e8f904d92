// Package status serves a small local admin surface: health, aggregate
// stats, a /metrics passthrough, and a /ws/progress broadcast channel
// pushing harvest progress events to any connected dashboard.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProgressEvent is broadcast to every connected websocket client whenever
// an artist's traversal finishes.
type ProgressEvent struct {
	ArtistID  string `json:"artistId"`
	Works     int    `json:"works"`
	Tiles     int    `json:"tiles"`
	Completed bool   `json:"completed"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the websocket client set and the aggregate counters
// surfaced at /stats.
type Server struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	artistsCompleted int
	tilesSaved       int
	runID            string
}

// New builds a Server tagged with runID for /stats responses.
func New(runID string) *Server {
	return &Server{clients: make(map[*websocket.Conn]bool), runID: runID}
}

// Broadcast pushes ev to every connected client and updates the running
// totals, dropping and closing any client whose write fails.
func (s *Server) Broadcast(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Completed {
		s.artistsCompleted++
	}
	s.tilesSaved += ev.Tiles

	for conn := range s.clients {
		if err := conn.WriteJSON(ev); err != nil {
			slog.Warn("status websocket write failed, dropping client", "err", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("status websocket upgrade failed", "err", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"runId":            s.runID,
		"artistsCompleted": s.artistsCompleted,
		"tilesSaved":       s.tilesSaved,
		"clients":          len(s.clients),
	})
}

// Router builds the gin engine serving /health, /stats, /ws/progress, and
// /metrics.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", s.handleStats)
	r.GET("/ws/progress", s.handleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// MarshalEvent is a small helper for callers that log the event alongside
// broadcasting it.
func MarshalEvent(ev ProgressEvent) string {
	raw, _ := json.Marshal(ev)
	return string(raw)
}
