// Package history keeps the in-memory list of scans for the current batch
// and decides duplicate status when new recognition results arrive.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/snvalidate"
)

// FieldSN is the only field currently compared for duplicates.
const FieldSN = "SN"

const timeLayout = "15:04:05"

type ScanResult struct {
	ID              string     `json:"id"`
	CapturedAt      time.Time  `json:"captured_at"`
	Time            string     `json:"time"`
	SN              string     `json:"sn"`
	OtherCodes      []ocr.Code `json:"other_codes"`
	Confidence      float64    `json:"confidence"`
	Duplicate       bool       `json:"duplicate"`
	DuplicateFields []string   `json:"duplicate_fields"`
}

// Validation runs the SN validator against the current SN. It is never
// cached so edits are reflected immediately.
func (r ScanResult) Validation() snvalidate.Result {
	return snvalidate.Validate(r.SN)
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a short message for the operator.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

const (
	msgNoContent = "图中未发现有效编码，请对准标签重试"
	msgSuccess   = "识别成功"
)

// IDFunc generates record ids.
type IDFunc func() string

// Engine holds the batch. Items are kept most recent first.
type Engine struct {
	mu    sync.RWMutex
	items []ScanResult
	// issued holds every id handed out, deleted and reset records included.
	issued map[string]struct{}
	newID  IDFunc
	now    func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		issued: make(map[string]struct{}),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// WithIDFunc replaces the id generator, mainly for tests.
func (e *Engine) WithIDFunc(f IDFunc) *Engine {
	e.newID = f
	return e
}

// WithClock replaces the wall clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Ingest adds a recognition result to the batch. It returns false when the
// result carried nothing worth recording; the notice explains either way.
func (e *Engine) Ingest(res ocr.Result) (ScanResult, Notice, bool) {
	if res.Empty() {
		return ScanResult{}, Notice{Level: LevelInfo, Message: msgNoContent}, false
	}

	sn := strings.TrimSpace(res.SN)

	e.mu.Lock()
	defer e.mu.Unlock()

	fields := e.duplicateFields(sn)
	now := e.now()
	rec := ScanResult{
		ID:              e.uniqueID(),
		CapturedAt:      now,
		Time:            now.Local().Format(timeLayout),
		SN:              sn,
		OtherCodes:      append([]ocr.Code{}, res.OtherCodes...),
		Confidence:      res.Confidence,
		Duplicate:       len(fields) > 0,
		DuplicateFields: fields,
	}

	e.items = append([]ScanResult{rec}, e.items...)

	if rec.Duplicate {
		return rec.clone(), Notice{
			Level:   LevelWarning,
			Message: "发现重复: " + strings.Join(fields, "/") + " 已在记录中",
		}, true
	}
	return rec.clone(), Notice{Level: LevelInfo, Message: msgSuccess}, true
}

// duplicateFields scans the whole history, not only distinct SNs.
func (e *Engine) duplicateFields(sn string) []string {
	fields := []string{}
	if sn == "" {
		return fields
	}
	seen := make(map[string]bool)
	for _, item := range e.items {
		if item.SN == sn && !seen[FieldSN] {
			seen[FieldSN] = true
			fields = append(fields, FieldSN)
		}
	}
	return fields
}

func (e *Engine) uniqueID() string {
	for {
		id := e.newID()
		if _, used := e.issued[id]; !used {
			e.issued[id] = struct{}{}
			return id
		}
	}
}

func (e *Engine) indexOf(id string) int {
	for i, item := range e.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// EditSN replaces the SN of one record. Duplicate flags are left as they
// were at capture time. Unknown ids are ignored.
func (e *Engine) EditSN(id, sn string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.items[i].SN = strings.TrimSpace(sn)
	return true
}

func (e *Engine) Delete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.items = append(e.items[:i], e.items[i+1:]...)
	return true
}

// Reset clears the batch. It needs a non-empty history and an explicit
// confirmation; otherwise nothing changes.
func (e *Engine) Reset(confirm bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 || !confirm {
		return false
	}
	e.items = nil
	return true
}

// Items returns a copy of the batch, most recent first.
func (e *Engine) Items() []ScanResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ScanResult, len(e.items))
	for i, item := range e.items {
		out[i] = item.clone()
	}
	return out
}

func (e *Engine) Get(id string) (ScanResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := e.indexOf(id)
	if i < 0 {
		return ScanResult{}, false
	}
	return e.items[i].clone(), true
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

func (r ScanResult) clone() ScanResult {
	r.OtherCodes = append([]ocr.Code{}, r.OtherCodes...)
	r.DuplicateFields = append([]string{}, r.DuplicateFields...)
	return r
}
