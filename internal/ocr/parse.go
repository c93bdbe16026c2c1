package ocr

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// labels the model is told to ignore but sometimes returns anyway
var blockedLabels = []string{"SKU", "MAC", "P/N", "MODEL"}

// ParseContent reads the model's JSON answer. Text around the JSON object
// is tolerated.
func ParseContent(content string) (*Result, error) {
	raw := strings.TrimSpace(content)
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		block := jsonBlock.FindString(raw)
		if block == "" || !gjson.Valid(block) {
			return nil, newError(KindUnparseable, errors.New("no JSON object in completion"))
		}
		raw = block
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, newError(KindUnparseable, errors.New("completion is not a JSON object"))
	}

	res := &Result{
		SN:         normalizeSN(doc.Get("sn")),
		OtherCodes: []Code{},
		Confidence: defaultConfidence,
	}

	doc.Get("other_codes").ForEach(func(_, v gjson.Result) bool {
		code := Code{
			Label: strings.TrimSpace(v.Get("label").String()),
			Value: strings.TrimSpace(v.Get("value").String()),
		}
		if allowedLabel(code.Label) {
			res.OtherCodes = append(res.OtherCodes, code)
		}
		return true
	})

	if c := doc.Get("confidence"); c.Type == gjson.Number {
		res.Confidence = clamp01(c.Float())
	}

	return res, nil
}

func normalizeSN(v gjson.Result) string {
	if v.Type == gjson.Null || !v.Exists() {
		return ""
	}
	sn := strings.TrimSpace(v.String())
	if strings.EqualFold(sn, "null") {
		return ""
	}
	return sn
}

func allowedLabel(label string) bool {
	upper := strings.ToUpper(label)
	for _, blocked := range blockedLabels {
		if strings.Contains(upper, blocked) {
			return false
		}
	}
	return true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
