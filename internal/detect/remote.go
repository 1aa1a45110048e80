package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/safefall/streaming-server/pkg/types"
)

// RemoteDetector sends JPEG frames to an external inference service
// over HTTP and parses its detection response.
type RemoteDetector struct {
	url    string
	client *http.Client
}

type remoteResponse struct {
	Detections []struct {
		Confidence float64 `json:"confidence"`
		BBox       struct {
			X int `json:"x"`
			Y int `json:"y"`
			W int `json:"w"`
			H int `json:"h"`
		} `json:"bbox"`
	} `json:"detections"`
}

func NewRemoteDetector(url string, timeout time.Duration) *RemoteDetector {
	return &RemoteDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Detect posts the frame bytes to the inference endpoint. A non-200
// reply or an unparseable body is an error; the caller decides whether
// to skip the frame or surface it.
func (rd *RemoteDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rd.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("building detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := rd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding detector response: %w", err)
	}

	out := make([]types.Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		out = append(out, types.Detection{
			Confidence: d.Confidence,
			BBox:       types.BoundingBox{X: d.BBox.X, Y: d.BBox.Y, W: d.BBox.W, H: d.BBox.H},
		})
	}
	return out, nil
}
