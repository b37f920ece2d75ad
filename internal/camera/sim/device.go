// Package sim is an in-process camera backend. It models one piece of
// hardware that at most one resource can stream from at a time.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/camera"
	"github.com/rs/zerolog/log"
)

// Stats counts resource operations seen by the device.
type Stats struct {
	Creates       int `json:"creates"`
	Starts        int `json:"starts"`
	StartFailures int `json:"start_failures"`
	Stops         int `json:"stops"`
	Releases      int `json:"releases"`
}

type Device struct {
	mu         sync.Mutex
	seq        int
	failNext   int
	busy       bool
	startDelay time.Duration
	active     *Resource
	stats      Stats
}

var _ camera.Factory = (*Device)(nil)

func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Create(filter barcode.Format, onResult camera.ResultFunc) (camera.Resource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.stats.Creates++
	return &Resource{dev: d, id: d.seq, filter: filter, onResult: onResult}, nil
}

// FailNextStarts makes the next n Start calls fail as if the device were held
// elsewhere.
func (d *Device) FailNextStarts(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// SetBusy makes every Start fail until cleared.
func (d *Device) SetBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

// SetStartDelay simulates slow hardware bring-up.
func (d *Device) SetStartDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startDelay = delay
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Streaming reports whether a resource currently holds the hardware.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

// Detect feeds one decoded symbol into the pipeline. It reaches the streaming
// resource only when that resource's filter accepts the symbology.
func (d *Device) Detect(value string, sym barcode.Format) bool {
	d.mu.Lock()
	r := d.active
	if r == nil || !r.filter.Accepts(sym) || r.onResult == nil {
		d.mu.Unlock()
		return false
	}
	deliver := r.onResult
	d.mu.Unlock()

	deliver(value)
	return true
}

// Resource is one simulated pipeline instance.
type Resource struct {
	dev      *Device
	id       int
	filter   barcode.Format
	onResult camera.ResultFunc
	running  bool
	released bool
	flash    bool
}

func (r *Resource) ID() int {
	return r.id
}

func (r *Resource) Start(ctx context.Context, overlay camera.Overlay) error {
	d := r.dev
	d.mu.Lock()
	delay := d.startDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", camera.ErrStartFailed, ctx.Err())
		case <-time.After(delay):
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r.released {
		return camera.ErrReleased
	}
	if d.failNext > 0 || d.busy || (d.active != nil && d.active != r) {
		if d.failNext > 0 {
			d.failNext--
		}
		d.stats.StartFailures++
		return fmt.Errorf("%w: %w", camera.ErrStartFailed, camera.ErrDeviceBusy)
	}
	r.running = true
	d.active = r
	d.stats.Starts++
	if overlay != nil {
		overlay.Clear()
	}
	log.Debug().Int("resource", r.id).Str("formats", r.filter.String()).Msg("sim camera streaming")
	return nil
}

func (r *Resource) Stop() {
	d := r.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	r.stopLocked()
}

func (r *Resource) Release() {
	d := r.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.released {
		return
	}
	r.stopLocked()
	r.released = true
	r.flash = false
	d.stats.Releases++
}

func (r *Resource) Flash() bool {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	return r.flash
}

func (r *Resource) SetFlash(on bool) {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	r.flash = on
}

func (r *Resource) stopLocked() {
	if !r.running {
		return
	}
	r.running = false
	if r.dev.active == r {
		r.dev.active = nil
	}
	r.dev.stats.Stops++
}
