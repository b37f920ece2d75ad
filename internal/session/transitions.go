package session

import (
	"context"
	"time"

	"github.com/danmuck/scangate/internal/observability"
	"github.com/danmuck/scangate/internal/permission"
)

func (c *Controller) handleVisible() {
	if c.state == Ended {
		return
	}
	c.visibility = Visible

	switch c.state {
	case AwaitingPermission:
		c.evaluatePermissions()
	case PermissionPending:
		// Granted outside the dialog. requestOutstanding stays set until the
		// dialog answers so no second request is issued meanwhile.
		if c.gate.AllGranted(c.required) {
			c.grant = Granted
			c.transition(Ready)
			c.startResource()
		}
	case Ready, Paused:
		if !c.gate.AllGranted(c.required) {
			c.log.Warn().Strs("permissions", c.required).Msg("grant revoked while hidden")
			c.releaseResource()
			c.grant = GrantUnknown
			c.transition(AwaitingPermission)
			c.evaluatePermissions()
			return
		}
		c.startResource()
	}
}

func (c *Controller) handleHidden() {
	if c.state == Ended {
		return
	}
	c.visibility = Hidden
	if c.state != Running {
		return
	}
	c.resource.Stop()
	observability.RecordResourceOp("stop", nil)
	c.transition(Paused)
}

func (c *Controller) handleDestroyed() {
	if c.state == Ended {
		return
	}
	c.visibility = Destroyed
	c.releaseResource()
	c.end(Outcome{SessionID: c.cfg.SessionID})
}

func (c *Controller) handlePermissionResult(grants map[string]bool) {
	if c.state == Ended {
		c.log.Debug().Msg("permission result after end discarded")
		return
	}
	c.requestOutstanding = false
	if c.state != PermissionPending {
		c.log.Debug().Str("state", c.state.String()).Msg("permission result ignored")
		return
	}

	res := permission.Result{Grants: grants}
	if res.AllGranted() && c.gate.AllGranted(c.required) {
		observability.RecordPermissionRequest("granted")
		c.log.Info().Msg("permission granted")
		c.grant = Granted
		c.transition(Ready)
		if c.visibility == Visible {
			c.startResource()
		}
		return
	}

	denied := res.Denied()
	if len(denied) == 0 {
		for _, id := range c.required {
			if !c.gate.AllGranted([]string{id}) {
				denied = append(denied, id)
			}
		}
	}
	observability.RecordPermissionRequest("denied")
	c.log.Warn().Err(ErrPermissionDenied).Strs("denied", denied).Msg("waiting for next visible to ask again")
	c.grant = Denied
	c.transition(AwaitingPermission)
	if c.hooks.OnPermissionDenied != nil {
		c.hooks.OnPermissionDenied(denied)
	}
}

func (c *Controller) handleScan(value string, gen uint64) {
	if c.state == Ended {
		return
	}
	if gen != 0 && (c.resource == nil || gen != c.generation) {
		c.log.Debug().Uint64("generation", gen).Msg("result from released resource dropped")
		return
	}
	c.releaseResource()
	c.resultEmitted = true
	c.end(Outcome{SessionID: c.cfg.SessionID, Scanned: true, Value: value})
}

// evaluatePermissions reads the manifest and either moves to Ready or waits
// on the one outstanding request.
func (c *Controller) evaluatePermissions() {
	c.required = c.gate.RequiredPermissions()
	if c.gate.AllGranted(c.required) {
		c.grant = Granted
		c.transition(Ready)
		if c.visibility == Visible {
			c.startResource()
		}
		return
	}

	c.grant = GrantPending
	c.transition(PermissionPending)
	if c.requestOutstanding {
		return
	}
	issued := c.gate.RequestMissing(c.required, func(res permission.Result) {
		c.OnPermissionResult(res.Grants)
	})
	if !issued {
		// Granted between the check and the request.
		c.grant = Granted
		c.transition(Ready)
		if c.visibility == Visible {
			c.startResource()
		}
		return
	}
	c.requestOutstanding = true
	observability.RecordPermissionRequest("issued")
}

// startResource creates a resource if none is held and starts it. A failed
// start releases the resource; the next Visible creates a fresh one.
func (c *Controller) startResource() {
	if c.resource == nil {
		c.generation++
		gen := c.generation
		res, err := c.factory.Create(c.cfg.Formats, func(value string) {
			c.enqueue(event{kind: eventScan, value: value, gen: gen})
		})
		observability.RecordResourceOp("create", err)
		if err != nil {
			c.log.Error().Err(err).Msg("unable to create camera resource")
			return
		}
		c.resource = res
		c.publishFlashUI()
	}

	c.startSeq.Add(1)
	c.starting.Store(true)
	c.transition(Starting)
	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.StartTimeout)
	started := time.Now()
	err := c.resource.Start(ctx, c.overlay)
	cancel()
	c.starting.Store(false)
	observability.RecordResourceStart(time.Since(started), err)
	if err != nil {
		c.log.Error().Err(err).Msg("unable to start camera resource")
		c.releaseResource()
		c.transition(Released)
		c.transition(Ready)
		return
	}
	c.transition(Running)
}

func (c *Controller) releaseResource() {
	if c.resource == nil {
		return
	}
	c.resource.Release()
	observability.RecordResourceOp("release", nil)
	c.resource = nil
	c.publishFlashUI()
}

func (c *Controller) end(o Outcome) {
	c.transition(Ended)
	kind := "ended"
	if o.Scanned {
		kind = "scanned"
	}
	if c.sink.Emit(o) {
		observability.RecordOutcome(kind)
		c.log.Info().Bool("scanned", o.Scanned).Msg("session ended")
	}
}

func (c *Controller) transition(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("transition")
	observability.RecordTransition(from.String(), to.String())
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(from, to)
	}
}
