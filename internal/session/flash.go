package session

import (
	"fmt"

	"github.com/danmuck/scangate/internal/camera"
	"github.com/danmuck/scangate/internal/observability"
)

// FlashUI is what the host should show for flash controls. It is derived from
// resource presence every time and never stored.
type FlashUI struct {
	Available bool   `json:"available"`
	On        bool   `json:"on"`
	Label     string `json:"label,omitempty"`
}

func flashUIFor(present, on bool) FlashUI {
	if !present {
		return FlashUI{}
	}
	ui := FlashUI{Available: true, On: on, Label: "Turn flashlight on"}
	if on {
		ui.Label = "Turn flashlight off"
	}
	return ui
}

// FlashUI reports flash affordances for the current resource.
func (c *Controller) FlashUI() FlashUI {
	snap := c.Snapshot()
	return flashUIFor(snap.ResourcePresent, snap.FlashOn)
}

// ToggleFlash flips the flash and returns the new state.
func (c *Controller) ToggleFlash() (bool, error) {
	return c.flashOp(func(res camera.Resource) bool {
		on := !res.Flash()
		res.SetFlash(on)
		return on
	}, true)
}

func (c *Controller) SetFlash(on bool) error {
	_, err := c.flashOp(func(res camera.Resource) bool {
		res.SetFlash(on)
		return on
	}, true)
	return err
}

func (c *Controller) Flash() (bool, error) {
	return c.flashOp(func(res camera.Resource) bool {
		return res.Flash()
	}, false)
}

// flashOp runs fn against the held resource. Calls that overlap a resource
// start are rejected, not queued. Other transitions are short and are waited
// out.
func (c *Controller) flashOp(fn func(camera.Resource) bool, mutates bool) (bool, error) {
	if c.starting.Load() {
		observability.RecordFlash("rejected")
		return false, ErrTransitionInProgress
	}
	seen := c.startSeq.Load()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startSeq.Load() != seen {
		observability.RecordFlash("rejected")
		return false, ErrTransitionInProgress
	}

	if c.state == Ended {
		observability.RecordFlash("unsupported")
		return false, fmt.Errorf("%w: %w", ErrUnsupported, ErrEnded)
	}
	if c.resource == nil {
		observability.RecordFlash("unsupported")
		return false, ErrUnsupported
	}
	on := fn(c.resource)
	if mutates {
		observability.RecordFlash("ok")
		c.publish()
		c.publishFlashUI()
	}
	return on, nil
}

func (c *Controller) publishFlashUI() {
	if c.hooks.OnFlashUI == nil {
		return
	}
	on := false
	if c.resource != nil {
		on = c.resource.Flash()
	}
	c.hooks.OnFlashUI(flashUIFor(c.resource != nil, on))
}
