// Package camera is the boundary between the session controller and a live
// capture/detection pipeline.
//
// A Resource is owned by exactly one controller at a time. Calls on it are
// never concurrent.
package camera

import (
	"context"
	"errors"

	"github.com/danmuck/scangate/internal/barcode"
)

var (
	ErrStartFailed         = errors.New("camera: start failed")
	ErrDeviceBusy          = errors.New("camera: device busy")
	ErrReleased            = errors.New("camera: resource released")
	ErrBackendUnavailable  = errors.New("camera: backend unavailable")
	ErrUnknownBackend      = errors.New("camera: unknown backend")
	ErrBackendExists       = errors.New("camera: backend already registered")
	ErrInvalidBackendEntry = errors.New("camera: invalid backend")
)

// ResultFunc receives a decoded value from the detection pipeline. It may be
// called more than once and from any goroutine.
type ResultFunc func(value string)

// Overlay is the graphics target detections are drawn onto.
type Overlay interface {
	Clear()
}

// NopOverlay draws nothing.
type NopOverlay struct{}

func (NopOverlay) Clear() {}

// Resource is one live camera pipeline bound to a fixed format filter.
//
// Start may fail; a resource whose start failed is released by its owner and
// never started again. Stop returns the hardware but keeps the pipeline so a
// later Start is cheap. Release is final.
type Resource interface {
	Start(ctx context.Context, overlay Overlay) error
	Stop()
	Release()
	Flash() bool
	SetFlash(on bool)
}

// Factory creates resources. onResult is bound for the resource's lifetime.
type Factory interface {
	Create(filter barcode.Format, onResult ResultFunc) (Resource, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(filter barcode.Format, onResult ResultFunc) (Resource, error)

func (f FactoryFunc) Create(filter barcode.Format, onResult ResultFunc) (Resource, error) {
	return f(filter, onResult)
}
