package stability

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/logging"
)

// Runner polls a frame source on a fixed interval and feeds the detector.
// Each Start acquires the source and begins a fresh loop; Stop ends the
// loop and releases the source before returning. A source that fails
// while running ends the loop; the source stays acquired until Stop.
type Runner struct {
	detector *Detector
	source   camera.FrameSource
	busy     func() bool
	trigger  func()
	onFail   func(error)
	now      func() time.Time

	mu      sync.Mutex
	state   State
	running bool
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner wires the detector to a source. busy reports whether a capture
// is in flight; trigger is called from the polling goroutine on every
// automatic capture.
func NewRunner(detector *Detector, source camera.FrameSource, busy func() bool, trigger func()) *Runner {
	if busy == nil {
		busy = func() bool { return false }
	}
	return &Runner{
		detector: detector,
		source:   source,
		busy:     busy,
		trigger:  trigger,
		now:      time.Now,
	}
}

// WithFailureHandler registers f to be called once when the source fails
// during a run. f is called from the polling goroutine after the loop has
// ended, so it may call Stop.
func (r *Runner) WithFailureHandler(f func(error)) *Runner {
	r.onFail = f
	return r
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.source.Acquire(ctx); err != nil {
		return fmt.Errorf("acquiring frame source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.state = State{}
	r.err = nil
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx, r.done)
	logging.Log.Debugf("[stability] polling every %v", r.detector.config.Interval)
	return nil
}

func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	if err := r.source.Release(); err != nil {
		return fmt.Errorf("releasing frame source: %w", err)
	}
	logging.Log.Debugf("[stability] stopped")
	return nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// NoteCapture applies the cooldown for a capture that did not come from
// the detector.
func (r *Runner) NoteCapture(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = r.state.NoteCapture(now, r.detector.config.Cooldown)
}

// Err returns the source failure that ended the current run, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	err := r.poll(ctx)
	if err == nil {
		close(done)
		return
	}

	logging.Log.Errorf("[stability] frame source failed: %v", err)
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(done)

	if r.onFail != nil {
		r.onFail(err)
	}
}

func (r *Runner) poll(ctx context.Context) error {
	ticker := time.NewTicker(r.detector.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) tick() error {
	if err := r.source.Err(); err != nil {
		return err
	}

	now := r.now()
	inFlight := r.busy()

	var frame image.Image
	if !inFlight && r.source.Ready() {
		if f, err := r.source.Frame(); err == nil {
			frame = f
		}
	}

	r.mu.Lock()
	st, action := r.detector.Step(r.state, Tick{
		Now:      now,
		Active:   r.running,
		InFlight: inFlight,
		Frame:    frame,
	})
	r.state = st
	r.mu.Unlock()

	if action == ActionCapture && r.trigger != nil {
		logging.Log.Debugf("[stability] scene stable (diff %.4f), capturing", st.LastMetric)
		r.trigger()
	}
	return nil
}
