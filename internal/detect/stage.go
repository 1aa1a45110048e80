package detect

import (
	"context"
	"sync"
	"time"

	"github.com/safefall/streaming-server/internal/logger"
	"github.com/safefall/streaming-server/internal/metrics"
	"github.com/safefall/streaming-server/pkg/types"
)

// State is the lifecycle of a stage worker.
type State int

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// IncidentFunc handles a qualifying fall detection. It runs on its own
// goroutine so a slow clip extraction never blocks frame processing.
type IncidentFunc func(detectedAt time.Time, det types.Detection)

// StageConfig carries the tunables for a detection stage.
type StageConfig struct {
	QueueSize          int
	BroadcastQueueSize int
	Annotate           bool
	ConfThreshold      float64
	ARThreshold        float64
	Cooldown           time.Duration
}

// Stage drains its input queue in arrival order, runs the detector on
// each frame, optionally annotates it, republishes the frame to the
// broadcast queue, and fires the incident callback on qualifying
// detections outside the cooldown interval.
type Stage struct {
	detector   Detector
	annotator  *Annotator
	mets       *metrics.Metrics
	onIncident IncidentFunc
	cfg        StageConfig

	in  chan types.Frame
	out chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	state       State
	lastTrigger time.Time
}

func NewStage(detector Detector, mets *metrics.Metrics, onIncident IncidentFunc, cfg StageConfig) *Stage {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stage{
		detector:   detector,
		mets:       mets,
		onIncident: onIncident,
		cfg:        cfg,
		in:         make(chan types.Frame, cfg.QueueSize),
		out:        make(chan []byte, cfg.BroadcastQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateStopped,
	}
	if cfg.Annotate {
		s.annotator = NewAnnotator(cfg.ConfThreshold, cfg.ARThreshold)
	}
	return s
}

// Offer pushes a frame into the detection queue without blocking. When
// the queue is full, the new frame is dropped and false is returned;
// detection is best effort and must never stall ingestion.
func (s *Stage) Offer(frame types.Frame) bool {
	select {
	case s.in <- frame:
		return true
	default:
		s.mets.DetectQueueDrops.Add(1)
		return false
	}
}

// Output returns the queue of frames ready for live broadcast.
func (s *Stage) Output() <-chan []byte {
	return s.out
}

// State returns the current lifecycle state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the stage worker. A stage is single-use: once stopped
// it cannot be restarted.
func (s *Stage) Start() {
	select {
	case <-s.ctx.Done():
		logger.Warn("detect", "Stage already stopped, not starting")
		return
	default:
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	go s.run()
}

// Stop asks the worker to finish its in-flight frame and exit, waiting
// up to timeout for it. Frames left in the queue are abandoned.
func (s *Stage) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.cancel()

	select {
	case <-s.done:
	case <-time.After(timeout):
		logger.Warn("detect", "Stage did not stop within %v", timeout)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
}

func (s *Stage) run() {
	defer close(s.done)
	logger.Info("detect", "Detection stage started (queue=%d, annotate=%v)", s.cfg.QueueSize, s.cfg.Annotate)

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.in:
			s.process(frame)
		}
	}
}

func (s *Stage) process(frame types.Frame) {
	started := time.Now()
	dets, err := s.detector.Detect(s.ctx, frame)
	s.mets.DetectionsRun.Add(1)
	s.mets.UpdateDetectLatency(time.Since(started))
	if err != nil {
		s.mets.DetectErrors.Add(1)
		logger.Warn("detect", "Detector error: %v", err)
		dets = nil
	}

	payload := frame.Data
	if s.annotator != nil {
		annotated, err := s.annotator.Annotate(frame.Data, dets)
		if err != nil {
			s.mets.AnnotateErrors.Add(1)
			logger.Warn("detect", "Annotation failed, forwarding raw frame: %v", err)
		} else {
			payload = annotated
		}
	}
	s.publish(payload)

	if det, ok := s.firstFall(dets); ok {
		s.maybeTrigger(frame.CapturedAt, det)
	}
}

// publish pushes the frame to the broadcast queue, evicting the oldest
// queued frame when full. The live view favors recency.
func (s *Stage) publish(payload []byte) {
	select {
	case s.out <- payload:
		return
	default:
	}

	select {
	case <-s.out:
		s.mets.BroadcastQueueDrops.Add(1)
	default:
	}
	select {
	case s.out <- payload:
	default:
		s.mets.BroadcastQueueDrops.Add(1)
	}
}

// firstFall returns the first qualifying detection in pass order. Later
// qualifying boxes in the same frame are drawn but never reported.
func (s *Stage) firstFall(dets []types.Detection) (types.Detection, bool) {
	for _, d := range dets {
		if IsFall(d, s.cfg.ConfThreshold, s.cfg.ARThreshold) {
			return d, true
		}
	}
	return types.Detection{}, false
}

func (s *Stage) maybeTrigger(detectedAt time.Time, det types.Detection) {
	s.mu.Lock()
	now := time.Now()
	if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < s.cfg.Cooldown {
		s.mu.Unlock()
		logger.Debug("detect", "Qualifying detection within cooldown, suppressed")
		return
	}
	s.lastTrigger = now
	s.mu.Unlock()

	s.mets.IncidentsTriggered.Add(1)
	logger.Info("detect", "Fall detected (confidence=%.2f, ar=%.2f), triggering incident",
		det.Confidence, det.BBox.AspectRatio())

	if s.onIncident != nil {
		go s.onIncident(detectedAt, det)
	}
}
