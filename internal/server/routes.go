package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/scangate/internal/auth"
	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/permission"
	"github.com/danmuck/scangate/internal/session"
	"github.com/danmuck/scangate/internal/visibility"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type answerRequest struct {
	Grants   map[string]bool `json:"grants"`
	GrantAll bool            `json:"grant_all"`
}

type scanRequest struct {
	Value  string `json:"value" binding:"required"`
	Format string `json:"format"`
}

type flashRequest struct {
	On *bool `json:"on" binding:"required"`
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		snap := s.session.Snapshot()
		status := http.StatusOK
		if snap.State == session.Ended {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   snap.State != session.Ended,
			"state":   snap.State,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.0.1",
		})
	})

	r.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.sessionView())
	})

	control := r.Group("/", auth.Require(s.auth))

	control.POST("/visibility/:event", func(c *gin.Context) {
		ev, err := visibility.Parse(c.Param("event"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		accepted := s.driver.Send(ev)
		s.settle(c)
		view := s.sessionView()
		view["accepted"] = accepted
		c.JSON(http.StatusOK, view)
	})

	control.POST("/permissions/answer", func(c *gin.Context) {
		if !s.requirePermissions(c) {
			return
		}
		var req answerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		grants := req.Grants
		if req.GrantAll {
			grants = make(map[string]bool)
			for _, id := range s.permissions.Pending() {
				grants[id] = true
			}
		}
		if err := s.permissions.Answer(grants); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, permission.ErrNoPendingRequest) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		s.settle(c)
		c.JSON(http.StatusOK, s.sessionView())
	})

	control.POST("/permissions/revoke/:id", func(c *gin.Context) {
		if !s.requirePermissions(c) {
			return
		}
		id := strings.TrimSpace(c.Param("id"))
		s.permissions.Revoke(id)
		log.Warn().Str("permission", id).Msg("permission revoked by host")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "revoked": id})
	})

	control.POST("/scan", func(c *gin.Context) {
		var req scanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delivered, err := s.scan(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.settle(c)
		view := s.sessionView()
		view["delivered"] = delivered
		c.JSON(http.StatusOK, view)
	})

	control.POST("/flash/toggle", func(c *gin.Context) {
		on, err := s.session.ToggleFlash()
		if err != nil {
			c.JSON(flashStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"on": on, "flash": s.session.FlashUI()})
	})

	control.PUT("/flash", func(c *gin.Context) {
		var req flashRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.session.SetFlash(*req.On); err != nil {
			c.JSON(flashStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"on": *req.On, "flash": s.session.FlashUI()})
	})

	r.GET("/outcome", func(c *gin.Context) {
		out, ok := s.session.Result()
		if !ok {
			c.JSON(http.StatusOK, gin.H{"ended": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ended": true, "outcome": out})
	})
}

func (s *Server) scan(req scanRequest) (bool, error) {
	if s.detector == nil {
		s.session.OnScanResult(req.Value)
		return true, nil
	}
	sym := barcode.QRCode
	if strings.TrimSpace(req.Format) != "" {
		f, err := barcode.ParseOne(req.Format)
		if err != nil {
			return false, err
		}
		sym = f
	}
	return s.detector.Detect(req.Value, sym), nil
}

// settle waits for queued session events so responses show their effect.
func (s *Server) settle(c *gin.Context) {
	if err := s.session.Settle(c.Request.Context()); err != nil {
		log.Debug().Err(err).Msg("session settle interrupted")
	}
}

func (s *Server) sessionView() gin.H {
	view := gin.H{
		"session": s.session.Snapshot(),
		"flash":   s.session.FlashUI(),
	}
	if s.permissions != nil {
		view["pending_permissions"] = s.permissions.Pending()
	}
	return view
}

func (s *Server) requirePermissions(c *gin.Context) bool {
	if s.permissions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "host does not answer permission prompts"})
		return false
	}
	return true
}

func flashStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrTransitionInProgress):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupported):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
