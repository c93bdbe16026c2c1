// Package session owns the scanning state of one operator: the batch
// history, the capture pipeline and the stability loop driving it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/capture"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/history"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/stability"
)

var ErrNotActive = errors.New("scanning is not active")

const (
	msgPermissionDenied = "摄像头权限被拒绝"
	msgCameraFailed     = "无法启动摄像头"
	msgBatchReset       = "批次已重置"

	subscriberBuffer = 100
)

type Exporter interface {
	Export(ctx context.Context, rows []history.ScanResult) (*export.Batch, error)
}

type Config struct {
	Stability stability.Config
	Capture   capture.Config
}

type Service struct {
	history  *history.Engine
	source   camera.FrameSource
	pipeline *capture.Pipeline
	runner   *stability.Runner
	exporter Exporter
	now      func() time.Time

	// lifecycle serializes Activate and Deactivate. It is never held by
	// anything the polling loop calls.
	lifecycle sync.Mutex

	mu     sync.RWMutex
	active bool
	fatal  error
	subs   map[chan Update]struct{}
}

func NewService(
	recognizer ocr.Recognizer,
	source camera.FrameSource,
	engine *history.Engine,
	exporter Exporter,
	config Config,
) *Service {
	if engine == nil {
		engine = history.NewEngine()
	}

	s := &Service{
		history:  engine,
		source:   source,
		exporter: exporter,
		now:      time.Now,
		subs:     make(map[chan Update]struct{}),
	}
	s.pipeline = capture.NewPipeline(config.Capture, recognizer, s.handleOutcome)
	s.runner = stability.NewRunner(
		stability.NewDetector(config.Stability),
		source,
		s.pipeline.Processing,
		s.autoCapture,
	).WithFailureHandler(s.cameraLost)
	return s
}

// Activate acquires the frame source and starts the stability loop. A
// camera failure leaves the session in a fatal state until the next
// successful Activate.
func (s *Service) Activate(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.runner.Running() {
		return nil
	}

	if err := s.runner.Start(ctx); err != nil {
		msg := msgCameraFailed
		if errors.Is(err, camera.ErrPermissionDenied) {
			msg = msgPermissionDenied
		}
		logging.Log.Errorf("[session] failed to start scanning: %v", err)

		s.mu.Lock()
		s.active = false
		s.fatal = err
		s.mu.Unlock()

		s.notify(history.Notice{Level: history.LevelError, Message: msg})
		s.publishStatus()
		return err
	}

	s.mu.Lock()
	s.active = true
	s.fatal = nil
	s.mu.Unlock()

	logging.Log.Infof("[session] scanning started")
	s.publishStatus()
	return nil
}

// Deactivate stops the loop and releases the frame source. An OCR request
// already in flight is not cancelled; its result is still recorded.
func (s *Service) Deactivate() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	if err := s.runner.Stop(); err != nil {
		return fmt.Errorf("stopping scanning: %w", err)
	}

	logging.Log.Infof("[session] scanning stopped")
	s.publishStatus()
	return nil
}

// cameraLost ends an activation whose frame source died mid-run. Like a
// failed Activate it leaves the session fatal until the next Activate.
func (s *Service) cameraLost(err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	// already deactivated, or restarted with a fresh run
	if !s.runner.Running() || s.runner.Err() == nil {
		return
	}
	if stopErr := s.runner.Stop(); stopErr != nil {
		logging.Log.Warnf("[session] releasing failed camera: %v", stopErr)
	}

	s.mu.Lock()
	s.active = false
	s.fatal = err
	s.mu.Unlock()

	logging.Log.Errorf("[session] camera lost: %v", err)
	s.notify(history.Notice{Level: history.LevelError, Message: msgCameraFailed})
	s.publishStatus()
}

func (s *Service) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Fatal returns the camera error that ended the last activation, if any.
func (s *Service) Fatal() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

func (s *Service) Status() Status {
	s.mu.RLock()
	st := Status{Active: s.active}
	if s.fatal != nil {
		st.Fatal = s.fatal.Error()
	}
	s.mu.RUnlock()

	st.Processing = s.pipeline.Processing()
	st.Items = s.history.Len()
	return st
}

// TriggerCapture is the manual shutter. It returns false when the request
// was ignored because another recognition is running or no frame was
// usable.
func (s *Service) TriggerCapture(ctx context.Context) (bool, error) {
	if !s.Active() {
		return false, ErrNotActive
	}
	// the request outlives the HTTP call that triggered it
	accepted := s.pipeline.Capture(context.WithoutCancel(ctx), s.source)
	if accepted {
		s.runner.NoteCapture(s.now())
		s.publishStatus()
	}
	return accepted, nil
}

func (s *Service) autoCapture() {
	if s.pipeline.Capture(context.Background(), s.source) {
		s.publishStatus()
	}
}

func (s *Service) handleOutcome(out capture.Outcome) {
	if out.Err != nil {
		logging.Log.WithField("kind", ocr.KindOf(out.Err).String()).
			Warnf("[session] recognition failed: %v", out.Err)
		s.notify(history.Notice{Level: history.LevelError, Message: ocr.UserMessage(out.Err)})
		return
	}

	rec, notice, ok := s.history.Ingest(*out.Result)
	if ok {
		logging.Log.WithField("id", rec.ID).
			WithField("duplicate", rec.Duplicate).
			Infof("[session] recorded SN %q (%.0f%%)", rec.SN, rec.Confidence*100)
		s.publish(Update{Type: UpdateRecord, Record: &rec})
	}
	s.notify(notice)
}

func (s *Service) Items() []history.ScanResult {
	return s.history.Items()
}

func (s *Service) Get(id string) (history.ScanResult, bool) {
	return s.history.Get(id)
}

func (s *Service) EditSN(id, sn string) bool {
	if !s.history.EditSN(id, sn) {
		return false
	}
	s.publish(Update{Type: UpdateHistory})
	return true
}

func (s *Service) Delete(id string) bool {
	if !s.history.Delete(id) {
		return false
	}
	s.publish(Update{Type: UpdateHistory})
	return true
}

// ResetBatch clears the history when confirmed and starts scanning again.
// It returns false when there was nothing to reset or no confirmation.
func (s *Service) ResetBatch(ctx context.Context, confirm bool) (bool, error) {
	if !s.history.Reset(confirm) {
		return false, nil
	}
	s.publish(Update{Type: UpdateHistory})
	s.notify(history.Notice{Level: history.LevelInfo, Message: msgBatchReset})

	if err := s.Activate(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Export hands the current batch to the exporter. An empty batch returns
// export.ErrNothingToExport without side effects.
func (s *Service) Export(ctx context.Context) (*export.Batch, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("no exporter configured")
	}
	return s.exporter.Export(ctx, s.history.Items())
}

// Wait blocks until the in-flight recognition, if any, has been recorded.
func (s *Service) Wait() {
	s.pipeline.Wait()
}

// Close stops scanning and waits for outstanding work.
func (s *Service) Close() error {
	err := s.Deactivate()
	s.pipeline.Wait()

	s.mu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()
	return err
}

// Subscribe returns a channel of updates and a function to stop receiving
// them. Slow subscribers miss updates rather than block scanning.
func (s *Service) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Service) notify(n history.Notice) {
	s.publish(Update{Type: UpdateNotice, Notice: &n})
}

func (s *Service) publishStatus() {
	st := s.Status()
	s.publish(Update{Type: UpdateScanning, Status: &st})
}

func (s *Service) publish(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			logging.Log.Debugf("[session] dropped %s update for slow subscriber", u.Type)
		}
	}
}
