package visibility

import (
	"context"

	"gioui.org/io/event"
	"golang.org/x/mobile/event/lifecycle"
)

// Drive feeds host events through mapFn into seq until the window is
// destroyed, events closes, or ctx ends. Events mapFn rejects are skipped.
func Drive[E any](ctx context.Context, events <-chan E, seq *Sequencer, mapFn func(E) (Event, bool)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev, ok := mapFn(e)
			if !ok {
				continue
			}
			seq.Send(ev)
			if ev == Destroyed {
				return nil
			}
		}
	}
}

// DriveGio follows a Gio window, as returned by (*app.Window).Events.
func DriveGio(ctx context.Context, events <-chan event.Event, seq *Sequencer) error {
	return Drive(ctx, events, seq, FromGio)
}

// DriveMobile follows an x/mobile app event stream. Only lifecycle events
// are considered.
func DriveMobile(ctx context.Context, events <-chan interface{}, seq *Sequencer) error {
	return Drive(ctx, events, seq, func(e interface{}) (Event, bool) {
		le, ok := e.(lifecycle.Event)
		if !ok {
			return 0, false
		}
		return FromLifecycle(le)
	})
}
