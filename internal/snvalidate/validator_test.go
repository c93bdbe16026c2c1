package snvalidate

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name           string
		sn             string
		wantValid      bool
		wantErrors     []string
		wantAdvisories []string
	}{
		{
			name:       "empty",
			sn:         "",
			wantValid:  false,
			wantErrors: []string{"SN为空"},
		},
		{
			name:       "whitespace only",
			sn:         "   ",
			wantValid:  false,
			wantErrors: []string{"SN为空"},
		},
		{
			name:       "tabs and newlines only",
			sn:         "\t\n ",
			wantValid:  false,
			wantErrors: []string{"SN为空"},
		},
		{
			name:      "valid digits tail",
			sn:        "952985A1B12345678901",
			wantValid: true,
		},
		{
			name:      "valid with surrounding spaces",
			sn:        "  952985a1b1234567890C ",
			wantValid: true,
		},
		{
			name:           "valid with rare letter is advisory only",
			sn:             "952985A1B123456789X1",
			wantValid:      true,
			wantAdvisories: []string{"提示:倒数第2位为少见字母"},
		},
		{
			name:           "lowercase rare letter",
			sn:             "952985A1B123456789k1",
			wantValid:      true,
			wantAdvisories: []string{"提示:倒数第2位为少见字母"},
		},
		{
			name:      "common letter at index 18",
			sn:        "952985A1B123456789J1",
			wantValid: true,
		},
		{
			name:       "wrong prefix",
			sn:         "123456A1B12345678901",
			wantValid:  false,
			wantErrors: []string{"前缀错误(当前123456, 应952985)"},
		},
		{
			name:      "length and prefix both fire",
			sn:        "11111",
			wantValid: false,
			wantErrors: []string{
				"长度错误(当前5位, 应20位)",
				"前缀错误(当前11111, 应952985)",
			},
		},
		{
			name:      "positional checks run on long enough input",
			sn:        "9529851A1234",
			wantValid: false,
			wantErrors: []string{
				"长度错误(当前12位, 应20位)",
				"第7位应为字母",
				"第8位应为数字",
				"第9位应为字母",
			},
		},
		{
			name:      "digit span reported once",
			sn:        "952985A1BX2345Y78901",
			wantValid: false,
			wantErrors: []string{
				"第10-18位应为数字",
			},
		},
		{
			name:      "tail must be alphanumeric",
			sn:        "952985A1B123456789-1",
			wantValid: false,
			wantErrors: []string{
				"最后2位应为数字或字母",
			},
		},
		{
			name:      "tail punctuation reported once",
			sn:        "952985A1B123456789-_",
			wantValid: false,
			wantErrors: []string{
				"最后2位应为数字或字母",
			},
		},
		{
			name:      "too long",
			sn:        "952985A1B123456789012",
			wantValid: false,
			wantErrors: []string{
				"长度错误(当前21位, 应20位)",
			},
		},
		{
			name:      "non ascii letters are not letters",
			sn:        "952985é1B12345678901",
			wantValid: false,
			wantErrors: []string{
				"第7位应为字母",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.sn)
			if res.IsValid != tt.wantValid {
				t.Errorf("expected valid=%v, got %v (%v)", tt.wantValid, res.IsValid, res.Texts())
			}
			if !reflect.DeepEqual(res.Errors(), tt.wantErrors) {
				t.Errorf("expected errors %q, got %q", tt.wantErrors, res.Errors())
			}
			if !reflect.DeepEqual(res.Advisories(), tt.wantAdvisories) {
				t.Errorf("expected advisories %q, got %q", tt.wantAdvisories, res.Advisories())
			}
		})
	}
}

func TestValidateShortInputsNeverPanic(t *testing.T) {
	full := "952985A1B12345678901"
	for n := 1; n < Length; n++ {
		sn := full[:n]
		res := Validate(sn)
		if res.IsValid {
			t.Errorf("%q: expected invalid", sn)
		}
		errs := res.Errors()
		if len(errs) == 0 || !strings.HasPrefix(errs[0], "长度错误") {
			t.Errorf("%q: expected a length error first, got %q", sn, errs)
		}
	}
}

func TestEmptyHasExactlyOneMessage(t *testing.T) {
	res := Validate("")
	if len(res.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(res.Messages))
	}
	if res.Messages[0].Severity != SeverityError {
		t.Errorf("expected error severity, got %s", res.Messages[0].Severity)
	}
}
