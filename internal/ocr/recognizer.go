package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Recognizer extracts label codes from an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, imageData []byte) (*Result, error)
}

type Code struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Result struct {
	SN         string  `json:"sn"`
	OtherCodes []Code  `json:"other_codes"`
	Confidence float64 `json:"confidence"`
}

// Empty reports whether the result carries neither an SN nor other codes.
func (r *Result) Empty() bool {
	return r == nil || (strings.TrimSpace(r.SN) == "" && len(r.OtherCodes) == 0)
}

const (
	ProviderArk    = "ark"
	ProviderGoogle = "google"

	defaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	defaultArkModel   = "Doubao-Seed-1.6-flash"
	defaultTimeout    = 30 * time.Second
	defaultConfidence = 0.8

	// encoded images below this size are treated as broken captures
	minImageBytes = 100
)

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

func NewConfig() *Config {
	return &Config{
		Provider:     ProviderArk,
		BaseURL:      defaultArkBaseURL,
		Model:        defaultArkModel,
		Timeout:      defaultTimeout,
		RetryMax:     1,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// New builds the recognizer selected by config.Provider.
func New(config *Config) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", ProviderArk:
		c, err := NewArkClient(config)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderGoogle:
		c, err := NewGoogleVisionClient(config)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
	}
}

type unconfigured struct {
	err error
}

// Unconfigured returns a recognizer that fails every request with err, so a
// missing credential surfaces on each capture instead of at startup.
func Unconfigured(err error) Recognizer {
	return unconfigured{err: err}
}

func (u unconfigured) Recognize(ctx context.Context, imageData []byte) (*Result, error) {
	return nil, u.err
}
