// Package server exposes compiled flows over HTTP.
//
// Routes:
//
//	GET  /health                  liveness
//	GET  /flows                   loaded flow types
//	GET  /flows/:name             method specs of one flow type
//	POST /flows/:name/kickoff     run a flow instance to quiescence
//	GET  /flows/:name/states/:id  persisted snapshot of a flow instance
//	GET  /events                  websocket stream of every run's events
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/roach88/flowkit/internal/compiler"
	"github.com/roach88/flowkit/internal/events"
	"github.com/roach88/flowkit/internal/ir"
	"github.com/roach88/flowkit/internal/persist"
)

// Server serves a fixed set of compiled flow definitions.
type Server struct {
	flows    map[string]*compiler.Definition
	names    []string
	backend  persist.Backend
	hub      *events.Bus
	maxSteps int
	logger   *slog.Logger

	mu      sync.Mutex
	sockets map[*Client]struct{}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Option configures a Server.
type Option func(*Server)

// WithBackend persists snapshots and events of every run and enables
// restore_id and the states endpoint.
func WithBackend(b persist.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// WithMaxSteps bounds every run. 0 means unbounded.
func WithMaxSteps(n int) Option {
	return func(s *Server) {
		s.maxSteps = n
	}
}

// WithLogger sets the logger for the server and the engines it creates.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a server for defs. Flow names must be unique.
func New(defs []*compiler.Definition, opts ...Option) (*Server, error) {
	s := &Server{
		flows:   make(map[string]*compiler.Definition, len(defs)),
		hub:     events.NewBus(),
		logger:  slog.Default(),
		sockets: map[*Client]struct{}{},
	}
	for _, d := range defs {
		if _, dup := s.flows[d.Name]; dup {
			return nil, fmt.Errorf("flow %q loaded more than once", d.Name)
		}
		s.flows[d.Name] = d
		s.names = append(s.names, d.Name)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Hub is the bus every run's events are forwarded to.
func (s *Server) Hub() *events.Bus {
	return s.hub
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(_ *gin.Context, _ *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))

	router.GET("/health", s.handleHealth)
	router.GET("/events", s.handleWebSocket)

	flows := router.Group("/flows")
	{
		flows.GET("", s.listFlows)
		flows.GET("/:name", s.getFlow)
		flows.POST("/:name/kickoff", s.kickoff)
		flows.GET("/:name/states/:id", s.getState)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ir.EngineVersion,
		"flows":   len(s.names),
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func abort(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Status: status})
}
