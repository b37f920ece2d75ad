// Package server exposes one scan session to a host over HTTP. The host
// reports visibility, answers permission prompts, drives flash, and collects
// the terminal outcome.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/scangate/internal/auth"
	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/observability"
	"github.com/danmuck/scangate/internal/session"
	"github.com/danmuck/scangate/internal/visibility"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PermissionHost is the host side of the permission dialog.
type PermissionHost interface {
	Answer(grants map[string]bool) error
	Revoke(id string)
	Pending() []string
}

// Detector injects decoded symbols into a camera backend.
type Detector interface {
	Detect(value string, sym barcode.Format) bool
}

type Options struct {
	ID          string
	Addr        string
	CorsOrigins []string
	Session     *session.Controller
	Permissions PermissionHost
	// Detector is optional. Without it /scan delivers straight to the session.
	Detector Detector
	// Auth guards the mutating routes when set.
	Auth auth.Validator
	// Driver is shared with any native window host so HTTP and window events
	// pass through one sequencer. A new one is built when nil.
	Driver *visibility.Sequencer
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	session     *session.Controller
	driver      *visibility.Sequencer
	permissions PermissionHost
	detector    Detector
	auth        auth.Validator
	router      *gin.Engine
}

func Appear(opts Options) *Server {
	observability.RegisterMetrics()
	id := opts.ID
	if id == "" {
		id = "scangate"
	}
	reqLog := log.With().Str("server", id).Str("session_id", opts.Session.ID()).Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(reqLog, func() string {
		return opts.Session.Snapshot().State.String()
	}))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	driver := opts.Driver
	if driver == nil {
		driver = visibility.NewSequencer(opts.Session)
	}
	return &Server{
		ID:          id,
		Addr:        opts.Addr,
		Appeared:    time.Now(),
		session:     opts.Session,
		driver:      driver,
		permissions: opts.Permissions,
		detector:    opts.Detector,
		auth:        opts.Auth,
		router:      r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve registers routes and listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("server", s.ID).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
