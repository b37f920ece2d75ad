// Package scanner wires one scan session to its collaborators and runs it as a
// standalone process until the session yields its outcome.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"gioui.org/io/event"
	"github.com/danmuck/scangate/internal/auth"
	"github.com/danmuck/scangate/internal/camera"
	"github.com/danmuck/scangate/internal/camera/sim"
	"github.com/danmuck/scangate/internal/camera/v4l2"
	"github.com/danmuck/scangate/internal/config"
	"github.com/danmuck/scangate/internal/permission"
	"github.com/danmuck/scangate/internal/server"
	"github.com/danmuck/scangate/internal/session"
	"github.com/danmuck/scangate/internal/visibility"
	"github.com/rs/zerolog/log"
)

// DefaultPermission is required when no manifest is configured.
const DefaultPermission = "android.permission.CAMERA"

var ErrNotBootstrapped = errors.New("scanner: service not bootstrapped")

// Service owns one session and the HTTP surface that drives it.
type Service struct {
	cfg config.Config

	host    *permission.MemoryHost
	device  *sim.Device
	session *session.Controller
	driver  *visibility.Sequencer
	server  *server.Server
	windows []windowSource
}

// windowSource pumps one native window's events into the shared sequencer.
type windowSource func(ctx context.Context, seq *visibility.Sequencer) error

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until the session ends or the process is signalled.
func (s *Service) Run() (session.Outcome, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) (session.Outcome, error) {
	if err := s.Bootstrap(); err != nil {
		return session.Outcome{}, err
	}
	return s.serve(ctx)
}

// Bootstrap builds the permission host, camera backend, session and server.
func (s *Service) Bootstrap() error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}

	s.host = permission.NewMemoryHost(s.cfg.PermissionPolicy, s.cfg.Granted...)
	gate := permission.NewGate(s.manifest(), s.host)

	s.device = sim.NewDevice()
	reg, err := buildRegistry(s.device, s.cfg)
	if err != nil {
		return err
	}
	factory, err := reg.Resolve(s.cfg.CameraBackend)
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(reg.IDs(), ", "))
	}

	s.session = session.New(session.Config{
		SessionID:    s.cfg.SessionID,
		Formats:      s.cfg.Formats,
		StartTimeout: s.cfg.StartTimeout,
	}, gate, factory, nil, s.hooks())
	s.driver = visibility.NewSequencer(s.session)

	opts := server.Options{
		ID:          "scangate",
		Addr:        s.cfg.ListenAddr,
		CorsOrigins: s.cfg.CorsOrigins,
		Session:     s.session,
		Permissions: s.host,
		Driver:      s.driver,
	}
	if s.cfg.CameraBackend == "sim" {
		opts.Detector = s.device
	}
	if s.cfg.ControlToken != "" {
		opts.Auth = auth.StaticToken{Token: s.cfg.ControlToken}
	}
	s.server = server.Appear(opts)

	log.Info().
		Str("session_id", s.session.ID()).
		Str("backend", s.cfg.CameraBackend).
		Str("formats", s.cfg.Formats.String()).
		Str("policy", string(s.cfg.PermissionPolicy)).
		Msg("scanner bootstrapped")
	return nil
}

// AttachGio follows a Gio window's stage events, typically
// (*app.Window).Events. Call before Run.
func (s *Service) AttachGio(events <-chan event.Event) {
	s.windows = append(s.windows, func(ctx context.Context, seq *visibility.Sequencer) error {
		return visibility.DriveGio(ctx, events, seq)
	})
}

// AttachMobile follows an x/mobile app's lifecycle, typically app.App.Events.
// Call before Run.
func (s *Service) AttachMobile(events <-chan interface{}) {
	s.windows = append(s.windows, func(ctx context.Context, seq *visibility.Sequencer) error {
		return visibility.DriveMobile(ctx, events, seq)
	})
}

func (s *Service) Session() *session.Controller {
	return s.session
}

// Device is the simulated backend. It is built even when another backend is
// selected, but only receives detections when "sim" is active.
func (s *Service) Device() *sim.Device {
	return s.device
}

func (s *Service) Host() *permission.MemoryHost {
	return s.host
}

func (s *Service) Server() *server.Server {
	return s.server
}

func (s *Service) serve(ctx context.Context) (session.Outcome, error) {
	if s.session == nil || s.server == nil {
		return session.Outcome{}, ErrNotBootstrapped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() { srvErr <- s.server.Serve(ctx) }()
	runErr := make(chan error, 1)
	go func() { runErr <- s.session.Run(ctx) }()
	for _, w := range s.windows {
		go func(w windowSource) {
			if err := w(ctx, s.driver); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("window driver stopped")
			}
		}(w)
	}

	var err error
	select {
	case err = <-runErr:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		cancel()
		if serr := <-srvErr; serr != nil && err == nil {
			err = serr
		}
	case err = <-srvErr:
		cancel()
		<-runErr
		if err == nil {
			err = errors.New("scanner: http server stopped before session ended")
		}
	}

	out, _ := s.session.Result()
	return out, err
}

func (s *Service) manifest() permission.Manifest {
	if strings.TrimSpace(s.cfg.Manifest) == "" {
		return permission.StaticManifest{DefaultPermission}
	}
	return permission.FileManifest{Path: s.cfg.Manifest}
}

func (s *Service) hooks() session.Hooks {
	return session.Hooks{
		OnStateChange: func(from, to session.State) {
			log.Info().Str("from", from.String()).Str("to", to.String()).Msg("session state")
		},
		OnPermissionDenied: func(denied []string) {
			log.Warn().Strs("denied", denied).Msg("camera permissions denied; show the scanner again to retry")
		},
		OnFlashUI: func(ui session.FlashUI) {
			log.Debug().Bool("available", ui.Available).Bool("on", ui.On).Str("label", ui.Label).Msg("flash controls")
		},
	}
}

func buildRegistry(dev *sim.Device, cfg config.Config) (*camera.Registry, error) {
	reg := camera.NewRegistry()
	device := cfg.CameraDevice
	if device == "" {
		device = v4l2.DefaultDevice
	}
	entries := []struct {
		id string
		f  camera.Factory
	}{
		{id: "sim", f: dev},
		{id: "v4l2", f: v4l2.NewFactory(v4l2.Config{Device: device})},
	}
	for _, e := range entries {
		if err := reg.Register(e.id, e.f); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
