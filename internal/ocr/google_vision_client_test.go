package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"
)

func TestExtractSN(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"S/N: 952985A1B12345678901\nSKU 123", "952985A1B12345678901"},
		{"SN952985A1B12345678901XYZ", "952985A1B12345678901"},
		{"short 952985A1 only", "952985A1"},
		{"nothing here", ""},
		{"序列号 952985A1B123456789中文", "952985A1B123456789"},
		{"编号952985A1B12345678901号", "952985A1B12345678901"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractSN(tt.text); got != tt.want {
			t.Errorf("ExtractSN(%q) = %q, want %q", tt.text, got, tt.want)
		}
		if got := ExtractSN(tt.text); !utf8.ValidString(got) {
			t.Errorf("ExtractSN(%q) returned invalid UTF-8 %q", tt.text, got)
		}
	}
}

func TestGoogleVisionClientRecognize(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantSN   string
		wantKind *ErrorKind
	}{
		{
			name:   "text detected",
			status: http.StatusOK,
			body: `{"responses": [{"textAnnotations": [{"description": "MODEL X1\nSN 952985A1B12345678901"}],
				"fullTextAnnotation": {"pages": [{"confidence": 0.91}], "text": "MODEL X1\nSN 952985A1B12345678901"}}]}`,
			wantSN: "952985A1B12345678901",
		},
		{
			name:     "quota exhausted",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED"}}`,
			wantKind: kindPtr(KindRateLimited),
		},
		{
			name:     "per image error",
			status:   http.StatusOK,
			body:     `{"responses": [{"error": {"code": 3, "message": "Bad image data", "status": "INVALID_ARGUMENT"}}]}`,
			wantKind: kindPtr(KindInvalidImage),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("key") != "gkey" {
					t.Errorf("missing api key in query")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cfg := NewConfig()
			cfg.Provider = ProviderGoogle
			cfg.APIKey = "gkey"
			cfg.BaseURL = server.URL
			cfg.RetryMax = 0
			cfg.Timeout = time.Second

			rec, err := New(cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			res, err := rec.Recognize(context.Background(), fakeJPEG)
			if tt.wantKind != nil {
				if KindOf(err) != *tt.wantKind {
					t.Fatalf("expected kind %s, got %v", *tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.SN != tt.wantSN {
				t.Errorf("expected SN %q, got %q", tt.wantSN, res.SN)
			}
			if res.Confidence != 0.91 {
				t.Errorf("expected confidence 0.91, got %f", res.Confidence)
			}
		})
	}
}
