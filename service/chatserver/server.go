// Package chatserver is the reference consultation gateway: the server side
// of the wire protocol the client engine speaks. The demo binary and the
// integration tests run it; production deployments may substitute any
// server honoring the same frames.
package chatserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"MaterniChat/global/config"
	"MaterniChat/logger"
	"MaterniChat/middleware/security"
	"MaterniChat/service/broker"
	"MaterniChat/service/history"
)

type Server struct {
	cfg     config.GatewayConfig
	hub     *Hub
	jwtOpts security.Options
	router  *gin.Engine
}

func New(cfg config.GatewayConfig, store history.Store, pub *broker.Publisher) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     NewHub(store, pub, cfg.NodeID),
		jwtOpts: security.DefaultOptions([]byte(cfg.JWTSecret)),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "node": cfg.NodeID})
	})
	r.GET("/ws", s.HandleWS)

	api := r.Group("/api")
	api.GET("/rooms", s.handleListRooms)
	api.GET("/rooms/:id/messages", s.handleRoomHistory)

	s.router = r
	return s
}

// Handler exposes the router; the integration tests mount it on httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	logger.Infof("[gateway] listening on %s node=%s", addr, s.cfg.NodeID)
	return s.router.Run(addr)
}

func (s *Server) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.hub.listRooms()})
}

func (s *Server) handleRoomHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := s.hub.store.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": recs})
}
