// Package capture turns a camera frame into a single OCR request and hands
// the outcome to whoever owns the scan history.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/ocr"
)

type Config struct {
	WidthFraction   float64
	Quality         int
	MinPayloadBytes int
	Timeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		WidthFraction:   0.85,
		Quality:         80,
		MinPayloadBytes: 100,
		Timeout:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WidthFraction <= 0 || c.WidthFraction > 1 {
		c.WidthFraction = d.WidthFraction
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = d.Quality
	}
	if c.MinPayloadBytes <= 0 {
		c.MinPayloadBytes = d.MinPayloadBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Outcome is the result of one recognition request. Exactly one of Result
// and Err is set.
type Outcome struct {
	Result *ocr.Result
	Err    error
	Bytes  int
}

// Sink consumes outcomes. It is called from the request goroutine.
type Sink func(Outcome)

// Pipeline allows at most one recognition request in flight. Requests that
// arrive while one is running are ignored, not queued.
type Pipeline struct {
	config     Config
	recognizer ocr.Recognizer
	sink       Sink

	processing atomic.Bool
	wg         sync.WaitGroup
}

func NewPipeline(config Config, recognizer ocr.Recognizer, sink Sink) *Pipeline {
	return &Pipeline{
		config:     config.withDefaults(),
		recognizer: recognizer,
		sink:       sink,
	}
}

// Processing reports whether a request is in flight.
func (p *Pipeline) Processing() bool {
	return p.processing.Load()
}

// Wait blocks until the in-flight request, if any, has been delivered.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Capture grabs the current frame from src and starts recognition. It
// returns false when the request was ignored or dropped.
func (p *Pipeline) Capture(ctx context.Context, src camera.FrameSource) bool {
	if !p.processing.CompareAndSwap(false, true) {
		logging.Log.Debugf("[capture] request ignored, recognition in flight")
		return false
	}

	frame, err := src.Frame()
	if err != nil {
		logging.Log.Debugf("[capture] no frame: %v", err)
		p.processing.Store(false)
		return false
	}

	payload, err := Encode(frame, p.config.WidthFraction, p.config.Quality)
	if err != nil || len(payload) < p.config.MinPayloadBytes {
		logging.Log.Debugf("[capture] dropped payload (%d bytes, err=%v)", len(payload), err)
		p.processing.Store(false)
		return false
	}

	p.wg.Add(1)
	go p.recognize(ctx, payload)
	return true
}

func (p *Pipeline) recognize(parent context.Context, payload []byte) {
	defer p.wg.Done()
	defer p.processing.Store(false)

	ctx, cancel := context.WithTimeout(parent, p.config.Timeout)
	defer cancel()

	start := time.Now()
	out := p.call(ctx, payload)
	out.Bytes = len(payload)

	logging.Log.WithField("bytes", len(payload)).
		WithField("elapsed", time.Since(start).Round(time.Millisecond)).
		Debugf("[capture] recognition finished (err=%v)", out.Err)

	if p.sink != nil {
		p.sink(out)
	}
}

func (p *Pipeline) call(ctx context.Context, payload []byte) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log.Errorf("[capture] recognizer panicked: %v", r)
			out = Outcome{Err: &ocr.Error{Kind: ocr.KindService, Err: fmt.Errorf("recognizer panic: %v", r)}}
		}
	}()

	res, err := p.recognizer.Recognize(ctx, payload)
	if err != nil {
		return Outcome{Err: err}
	}
	if res == nil {
		return Outcome{Err: &ocr.Error{Kind: ocr.KindNoResult, Err: fmt.Errorf("recognizer returned no result")}}
	}
	return Outcome{Result: res}
}
