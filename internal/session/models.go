package session

import (
	"github.com/kdimtricp/labelscan/internal/history"
)

type UpdateType string

const (
	UpdateNotice   UpdateType = "notice"
	UpdateRecord   UpdateType = "record"
	UpdateHistory  UpdateType = "history"
	UpdateScanning UpdateType = "scanning"
)

// Update is pushed to subscribers whenever something the operator can see
// changes.
type Update struct {
	Type   UpdateType          `json:"type"`
	Notice *history.Notice     `json:"notice,omitempty"`
	Record *history.ScanResult `json:"record,omitempty"`
	Status *Status             `json:"status,omitempty"`
}

type Status struct {
	Active     bool   `json:"active"`
	Processing bool   `json:"processing"`
	Items      int    `json:"items"`
	Fatal      string `json:"fatal,omitempty"`
}
