// Package v4l2 streams a local V4L2 camera through a GStreamer pipeline:
//
//	v4l2src ! videoconvert ! fakesink
//
// Building with the gstreamer tag links libgstreamer through go-gst. Without
// the tag, Create reports camera.ErrBackendUnavailable so the backend can be
// registered on every platform.
package v4l2

// DefaultDevice is the capture node used when none is configured.
const DefaultDevice = "/dev/video0"

// Config selects the capture node.
type Config struct {
	Device string
}
