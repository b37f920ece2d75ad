//go:build !gstreamer

package v4l2

import (
	"fmt"

	"github.com/danmuck/scangate/internal/barcode"
	"github.com/danmuck/scangate/internal/camera"
)

type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) Create(barcode.Format, camera.ResultFunc) (camera.Resource, error) {
	return nil, fmt.Errorf("%w: v4l2 requires the gstreamer build tag", camera.ErrBackendUnavailable)
}
