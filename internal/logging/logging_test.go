package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logrus.Level
		wantErr bool
	}{
		{input: "debug", want: logrus.DebugLevel},
		{input: "INFO", want: logrus.InfoLevel},
		{input: "", want: logrus.InfoLevel},
		{input: "warn", want: logrus.WarnLevel},
		{input: "warning", want: logrus.WarnLevel},
		{input: "error", want: logrus.ErrorLevel},
		{input: "verbose", wantErr: true},
	}

	defer Log.SetLevel(logrus.InfoLevel)

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := SetLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if Log.GetLevel() != tt.want {
				t.Errorf("expected level %v, got %v", tt.want, Log.GetLevel())
			}
		})
	}
}
