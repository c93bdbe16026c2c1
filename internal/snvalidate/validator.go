// Package snvalidate checks serial numbers against the fixed label format:
// a 6-digit prefix, letter, digit, letter, nine digits and a two character
// alphanumeric tail.
package snvalidate

import (
	"fmt"
	"strings"
)

const (
	Prefix = "952985"
	Length = 20
)

type Severity string

const (
	SeverityError    Severity = "error"
	SeverityAdvisory Severity = "advisory"
)

type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

type Result struct {
	IsValid  bool      `json:"is_valid"`
	Messages []Message `json:"messages"`
}

const (
	msgEmpty      = "SN为空"
	msgPos7       = "第7位应为字母"
	msgPos8       = "第8位应为数字"
	msgPos9       = "第9位应为字母"
	msgDigits     = "第10-18位应为数字"
	msgTail       = "最后2位应为数字或字母"
	msgRareLetter = "提示:倒数第2位为少见字母"
)

// Validate never fails; findings are returned as messages. Advisory
// messages do not affect IsValid.
func Validate(sn string) Result {
	s := []rune(strings.TrimSpace(sn))
	if len(s) == 0 {
		return Result{
			IsValid:  false,
			Messages: []Message{{Severity: SeverityError, Text: msgEmpty}},
		}
	}

	var msgs []Message
	fail := func(text string) {
		msgs = append(msgs, Message{Severity: SeverityError, Text: text})
	}

	if len(s) != Length {
		fail(fmt.Sprintf("长度错误(当前%d位, 应%d位)", len(s), Length))
	}

	if !strings.HasPrefix(string(s), Prefix) {
		head := s
		if len(head) > len(Prefix) {
			head = head[:len(Prefix)]
		}
		fail(fmt.Sprintf("前缀错误(当前%s, 应%s)", string(head), Prefix))
	}

	if len(s) > 6 && !isLetter(s[6]) {
		fail(msgPos7)
	}
	if len(s) > 7 && !isDigit(s[7]) {
		fail(msgPos8)
	}
	if len(s) > 8 && !isLetter(s[8]) {
		fail(msgPos9)
	}

	if !spanOK(s, 9, 18, isDigit) {
		fail(msgDigits)
	}
	if !spanOK(s, 18, 20, isAlnum) {
		fail(msgTail)
	}

	if len(s) > 18 && isRare(s[18]) {
		msgs = append(msgs, Message{Severity: SeverityAdvisory, Text: msgRareLetter})
	}

	res := Result{Messages: msgs}
	res.IsValid = len(res.Errors()) == 0
	return res
}

// Errors returns the error-severity texts.
func (r Result) Errors() []string {
	return r.filter(SeverityError)
}

func (r Result) Advisories() []string {
	return r.filter(SeverityAdvisory)
}

// Texts returns every message text in order.
func (r Result) Texts() []string {
	out := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.Text)
	}
	return out
}

func (r Result) filter(sev Severity) []string {
	var out []string
	for _, m := range r.Messages {
		if m.Severity == sev {
			out = append(out, m.Text)
		}
	}
	return out
}

// spanOK checks indices [from, to) that exist in s.
func spanOK(s []rune, from, to int, ok func(rune) bool) bool {
	for i := from; i < to && i < len(s); i++ {
		if !ok(s[i]) {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isAlnum(r rune) bool {
	return isLetter(r) || isDigit(r)
}

// k through z in either case
func isRare(r rune) bool {
	return (r >= 'k' && r <= 'z') || (r >= 'K' && r <= 'Z')
}
