package ocr

import (
	"context"
	"errors"
	"net"
	"strings"
)

type ErrorKind int

const (
	KindService ErrorKind = iota
	KindInvalidImage
	KindRateLimited
	KindTimeout
	KindNotConfigured
	KindNoResult
	KindUnparseable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidImage:
		return "invalid_image"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNotConfigured:
		return "not_configured"
	case KindNoResult:
		return "no_result"
	case KindUnparseable:
		return "unparseable"
	default:
		return "service"
	}
}

// Error is a classified recognizer failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "ocr " + e.Kind.String()
	}
	return "ocr " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies any error. Unclassified errors are service errors,
// except context deadlines and network timeouts.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindService
}

// UserMessage maps a recognizer failure to the notice shown to the operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindInvalidImage:
		return "图像无法解析，请确保光线充足且已对焦"
	case KindRateLimited:
		return "请求过于频繁，请稍后再试"
	case KindTimeout:
		return "识别超时，请检查网络"
	case KindNotConfigured:
		return "未配置 ARK_API_KEY 环境变量"
	case KindNoResult:
		return "识别无结果"
	case KindUnparseable:
		return "无法解析识别结果"
	default:
		return "识别服务繁忙，请稍后再试"
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline")
}

// classifyStatus maps an HTTP status and API error message to a kind.
func classifyStatus(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == 400 || strings.Contains(message, "INVALID_ARGUMENT"):
		return KindInvalidImage
	case status == 429 || strings.Contains(lower, "rate limit"):
		return KindRateLimited
	case status == 408 || status == 504 || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return KindTimeout
	default:
		return KindService
	}
}
