// Package httpapi exposes the engine over HTTP: signal and decision
// ingestion, fence management, status, and a websocket notification stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/notify"
	"github.com/geoshift/geoshift/internal/position"
	"github.com/geoshift/geoshift/internal/store"
)

// Persistence is the slice of the store the API needs beyond what the
// engine already owns: fence management and history reads.
type Persistence interface {
	CreateFence(ctx context.Context, userID string, fence geo.Fence) (string, error)
	DeleteFence(ctx context.Context, userID, fenceID string) error
	ListActiveFences(ctx context.Context, userID string) ([]geo.Fence, error)
	RecentSessions(ctx context.Context, userID string, limit int) ([]engine.Session, error)
	RecentAudit(ctx context.Context, limit int) ([]store.AuditRecord, error)
}

// Server wires the HTTP surface to the engine and its collaborators.
type Server struct {
	eng    *engine.Engine
	db     Persistence
	hub    *notify.Hub
	bridge *position.Bridge
	userID string
}

// New creates a Server. hub and bridge may be nil when the corresponding
// surface is not served.
func New(eng *engine.Engine, db Persistence, hub *notify.Hub, bridge *position.Bridge, userID string) *Server {
	return &Server{eng: eng, db: db, hub: hub, bridge: bridge, userID: userID}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	v1 := r.Group("/api/v1")
	{
		v1.POST("/signals", s.postSignal)
		v1.POST("/decisions", s.postDecision)
		v1.POST("/position", s.postPosition)
		v1.GET("/status", s.getStatus)
		v1.GET("/sessions", s.getSessions)
		v1.GET("/audit", s.getAudit)
		v1.POST("/fences", s.postFence)
		v1.DELETE("/fences/:id", s.deleteFence)
		v1.POST("/fences/refresh", s.postFenceRefresh)
		v1.PUT("/timings", s.putTimings)
	}

	if s.hub != nil {
		r.GET("/ws/notifications", s.wsNotifications)
	}

	return r
}

// requestLog is a minimal slog access logger; gin's default writes to its
// own logger, which would bypass the process-wide handler.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
