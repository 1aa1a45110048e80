package detect

import (
	"context"

	"github.com/safefall/streaming-server/pkg/types"
)

// Detector analyzes one frame and returns the people it found. An
// empty slice with a nil error means the frame was analyzed and no
// one was visible.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, frame types.Frame) ([]types.Detection, error)

func (f Func) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// IsFall reports whether a detection satisfies the prone-posture rule:
// the bounding box is wider than tall beyond arThreshold and the model
// confidence exceeds confThreshold.
func IsFall(d types.Detection, confThreshold, arThreshold float64) bool {
	return d.Confidence > confThreshold && d.BBox.AspectRatio() > arThreshold
}
