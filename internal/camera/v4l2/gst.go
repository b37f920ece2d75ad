//go:build gstreamer

package v4l2

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/camera"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
)

type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	if strings.TrimSpace(cfg.Device) == "" {
		cfg.Device = DefaultDevice
	}
	return &Factory{cfg: cfg}
}

// Create builds the pipeline in the NULL state. Detection runs downstream of
// the sink and is not part of this backend; onResult is kept for it.
func (f *Factory) Create(filter barcode.Format, onResult camera.ResultFunc) (camera.Resource, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("v4l2: create pipeline: %w", err)
	}
	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("v4l2: create v4l2src: %w", err)
	}
	src.SetProperty("device", f.cfg.Device)
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("v4l2: create videoconvert: %w", err)
	}
	sink, err := gst.NewElement("fakesink")
	if err != nil {
		return nil, fmt.Errorf("v4l2: create fakesink: %w", err)
	}
	sink.SetProperty("sync", false)

	if err := pipeline.AddMany(src, convert, sink); err != nil {
		return nil, fmt.Errorf("v4l2: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, sink); err != nil {
		return nil, fmt.Errorf("v4l2: link elements: %w", err)
	}

	return &Resource{
		device:   f.cfg.Device,
		filter:   filter,
		onResult: onResult,
		pipeline: pipeline,
	}, nil
}

type Resource struct {
	mu       sync.Mutex
	device   string
	filter   barcode.Format
	onResult camera.ResultFunc
	pipeline *gst.Pipeline
	flash    bool
}

// Start moves the pipeline to PLAYING and watches the bus until the pipeline
// is playing, reports an error, or ctx ends.
func (r *Resource) Start(ctx context.Context, overlay camera.Overlay) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipeline == nil {
		return camera.ErrReleased
	}
	if overlay != nil {
		overlay.Clear()
	}
	if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("%w: %v", camera.ErrStartFailed, err)
	}

	bus := r.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			_ = r.pipeline.SetState(gst.StateNull)
			return fmt.Errorf("%w: %v", camera.ErrStartFailed, ctx.Err())
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			_ = r.pipeline.SetState(gst.StateNull)
			return fmt.Errorf("%w: %s: %s", camera.ErrStartFailed, r.device, gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() != r.pipeline.GetName() {
				continue
			}
			_, next := msg.ParseStateChanged()
			if next == gst.StatePlaying {
				log.Info().Str("device", r.device).Str("formats", r.filter.String()).Msg("v4l2 pipeline playing")
				return nil
			}
		}
	}
}

// Stop drops the pipeline to NULL, which closes the capture node.
func (r *Resource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipeline == nil {
		return
	}
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		log.Warn().Err(err).Str("device", r.device).Msg("v4l2 stop failed")
	}
}

func (r *Resource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipeline == nil {
		return
	}
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		log.Warn().Err(err).Str("device", r.device).Msg("v4l2 release failed")
	}
	r.pipeline = nil
	r.flash = false
}

// Flash reports the requested torch state. V4L2 nodes without a torch
// control ignore it.
func (r *Resource) Flash() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flash
}

func (r *Resource) SetFlash(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flash = on
	log.Debug().Str("device", r.device).Bool("flash", on).Msg("v4l2 torch requested")
}
