// Package stability decides when the camera has been held still long enough
// to take a picture without user action.
package stability

import (
	"image"
	"time"

	xdraw "golang.org/x/image/draw"
)

type Config struct {
	// Threshold is the normalized difference below which two samples count
	// as the same scene.
	Threshold float64
	// MinStable is how long the scene must stay still before a capture.
	MinStable time.Duration
	// Cooldown suppresses automatic captures after any capture.
	Cooldown     time.Duration
	SampleWidth  int
	SampleHeight int
	// SampleStride compares every Nth byte of the RGBA sample.
	SampleStride int
	// Interval is the polling period of the Runner.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:    0.035,
		MinStable:    600 * time.Millisecond,
		Cooldown:     1500 * time.Millisecond,
		SampleWidth:  160,
		SampleHeight: 120,
		SampleStride: 12,
		Interval:     33 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.MinStable <= 0 {
		c.MinStable = d.MinStable
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.SampleWidth <= 0 || c.SampleHeight <= 0 {
		c.SampleWidth, c.SampleHeight = d.SampleWidth, d.SampleHeight
	}
	if c.SampleStride <= 0 {
		c.SampleStride = d.SampleStride
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// State is the detector bookkeeping carried between ticks.
type State struct {
	Last          []byte
	StableSince   time.Time
	CooldownUntil time.Time
	LastMetric    float64
}

// NoteCapture starts a cooldown and clears stability tracking. Manual
// captures go through here too.
func (s State) NoteCapture(now time.Time, cooldown time.Duration) State {
	s.StableSince = time.Time{}
	s.CooldownUntil = now.Add(cooldown)
	return s
}

type Tick struct {
	Now      time.Time
	Active   bool
	InFlight bool
	Frame    image.Image
}

type Action int

const (
	ActionNone Action = iota
	ActionCapture
)

type Detector struct {
	config Config
}

func NewDetector(config Config) *Detector {
	return &Detector{config: config.withDefaults()}
}

func (d *Detector) Config() Config {
	return d.config
}

// Step advances the detector by one tick. Skipped ticks (inactive, capture
// in flight, cooldown, no frame) return the state untouched, baseline included.
func (d *Detector) Step(st State, in Tick) (State, Action) {
	if !in.Active || in.InFlight || in.Now.Before(st.CooldownUntil) || in.Frame == nil {
		return st, ActionNone
	}

	sample := d.Sample(in.Frame)
	action := ActionNone

	if len(st.Last) == len(sample) {
		metric := Diff(st.Last, sample, d.config.SampleStride)
		st.LastMetric = metric

		if metric < d.config.Threshold {
			if st.StableSince.IsZero() {
				st.StableSince = in.Now
			} else if in.Now.Sub(st.StableSince) > d.config.MinStable {
				action = ActionCapture
				st = st.NoteCapture(in.Now, d.config.Cooldown)
			}
		} else {
			st.StableSince = time.Time{}
		}
	}

	st.Last = sample
	return st, action
}

// Sample downsamples img to the configured size and returns its RGBA bytes.
func (d *Detector) Sample(img image.Image) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, d.config.SampleWidth, d.config.SampleHeight))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst.Pix
}

// Diff is the mean absolute difference of every stride-th byte, scaled to [0,1].
func Diff(a, b []byte, stride int) float64 {
	if stride <= 0 {
		stride = 1
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var sum, count int
	for i := 0; i < n; i += stride {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
		count++
	}
	return float64(sum) / (float64(count) * 255)
}
