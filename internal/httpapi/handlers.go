package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoshift/geoshift/internal/engine"
	"github.com/geoshift/geoshift/internal/geo"
	"github.com/geoshift/geoshift/internal/signal"
)

type signalRequest struct {
	Kind      string     `json:"kind" binding:"required"`
	FenceID   string     `json:"fenceId" binding:"required"`
	FenceName string     `json:"fenceName"`
	At        *time.Time `json:"at"`
}

// postSignal ingests one raw geofence signal. 202 means queued, not acted
// on: filtering and the state machine run asynchronously.
func (s *Server) postSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	kind, ok := signal.ParseKind(req.Kind)
	if !ok {
		badRequest(c, fmt.Errorf("unknown signal kind %q", req.Kind))
		return
	}

	sig := signal.Signal{Kind: kind, FenceID: req.FenceID, FenceName: req.FenceName}
	if req.At != nil {
		sig.At = *req.At
	}

	if !s.eng.HandleSignal(sig) {
		// The re-entrancy guard is holding: a signal is already in flight.
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "signal processing in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type decisionRequest struct {
	Decision          string `json:"decision" binding:"required"`
	AdjustmentMinutes int    `json:"adjustmentMinutes"`
}

func (s *Server) postDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	kind, ok := engine.ParseDecisionKind(req.Decision)
	if !ok {
		badRequest(c, fmt.Errorf("unknown decision %q", req.Decision))
		return
	}
	if kind == engine.DecisionEndAdjusted && req.AdjustmentMinutes < 1 {
		badRequest(c, fmt.Errorf("end_adjusted needs adjustmentMinutes >= 1"))
		return
	}

	s.eng.Decide(engine.Decision{Kind: kind, AdjustmentMinutes: req.AdjustmentMinutes})
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type positionRequest struct {
	Lat            float64 `json:"lat" binding:"required"`
	Lng            float64 `json:"lng" binding:"required"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// postPosition caches a location sample from the client. The engine pulls
// from this cache for hysteresis checks and reconcile passes.
func (s *Server) postPosition(c *gin.Context) {
	if s.bridge == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no position bridge configured"})
		return
	}

	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	s.bridge.Report(geo.Position{Lat: req.Lat, Lng: req.Lng, AccuracyMeters: req.AccuracyMeters})
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.eng.Status()
	resp := gin.H{"engine": st}
	if s.hub != nil {
		resp["notificationClients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := s.db.RecentSessions(c.Request.Context(), s.userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []engine.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.db.RecentAudit(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

type fenceRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name" binding:"required"`
	Lat          float64 `json:"lat" binding:"required"`
	Lng          float64 `json:"lng" binding:"required"`
	RadiusMeters float64 `json:"radiusMeters" binding:"required"`
}

// postFence creates a fence and tells the engine the registry changed.
func (s *Server) postFence(c *gin.Context) {
	var req fenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.db.CreateFence(c.Request.Context(), s.userID, geo.Fence{
		ID:           req.ID,
		Name:         req.Name,
		Lat:          req.Lat,
		Lng:          req.Lng,
		RadiusMeters: req.RadiusMeters,
		Active:       true,
	})
	if err != nil {
		badRequest(c, err)
		return
	}

	s.eng.RefreshFences()
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteFence(c *gin.Context) {
	if err := s.db.DeleteFence(c.Request.Context(), s.userID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	s.eng.RefreshFences()
	c.Status(http.StatusNoContent)
}

func (s *Server) postFenceRefresh(c *gin.Context) {
	s.eng.RefreshFences()
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type timingsRequest struct {
	HeartbeatIntervalSeconds int   `json:"heartbeatIntervalSeconds"`
	Foreground               *bool `json:"foreground"`
}

// putTimings adjusts the heartbeat at runtime: either an explicit interval
// or the foreground/background preset switch.
func (s *Server) putTimings(c *gin.Context) {
	var req timingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	switch {
	case req.HeartbeatIntervalSeconds > 0:
		d := time.Duration(req.HeartbeatIntervalSeconds) * time.Second
		if err := s.eng.UpdateHeartbeatInterval(d); err != nil {
			badRequest(c, err)
			return
		}
	case req.Foreground != nil:
		if err := s.eng.SetForeground(*req.Foreground); err != nil {
			badRequest(c, err)
			return
		}
	default:
		badRequest(c, fmt.Errorf("nothing to update"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"heartbeatIntervalNs": s.eng.Status().HeartbeatInterval})
}
