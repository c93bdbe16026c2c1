package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/kdimtricp/labelscan/internal/snvalidate"
)

const googleVisionAPIURL = "https://vision.googleapis.com/v1/images:annotate"

// GoogleVisionClient runs TEXT_DETECTION and picks the serial number out of
// the detected text.
type GoogleVisionClient struct {
	apiKey   string
	endpoint string
	client   *retryablehttp.Client
}

func NewGoogleVisionClient(config *Config) (*GoogleVisionClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, newError(KindNotConfigured, errors.New("google vision API key is not set"))
	}
	endpoint := googleVisionAPIURL
	if base := strings.TrimSpace(config.BaseURL); base != "" && base != defaultArkBaseURL {
		endpoint = base
	}
	return &GoogleVisionClient{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   newRetryClient(config),
	}, nil
}

type googleVisionRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    imageContent  `json:"image"`
	Features []featureType `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type featureType struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

func (c *GoogleVisionClient) Recognize(ctx context.Context, imageData []byte) (*Result, error) {
	if len(imageData) < minImageBytes {
		return nil, newError(KindInvalidImage, fmt.Errorf("image too small (%d bytes)", len(imageData)))
	}

	reqBody := googleVisionRequest{
		Requests: []imageRequest{
			{
				Image: imageContent{Content: base64.StdEncoding.EncodeToString(imageData)},
				Features: []featureType{
					{Type: "TEXT_DETECTION", MaxResults: 10},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, jsonData)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		kind := KindService
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, newError(kind, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindService, fmt.Errorf("failed to read response: %w", err))
	}

	if !gjson.ValidBytes(body) {
		if resp.StatusCode >= 300 {
			return nil, newError(classifyStatus(resp.StatusCode, ""), fmt.Errorf("google vision HTTP %d", resp.StatusCode))
		}
		return nil, newError(KindUnparseable, errors.New("google vision returned malformed JSON"))
	}
	doc := gjson.ParseBytes(body)

	if apiErr := doc.Get("error"); apiErr.Exists() {
		kind := classifyStatus(int(apiErr.Get("code").Int()), apiErr.Get("status").String()+" "+apiErr.Get("message").String())
		return nil, newError(kind, fmt.Errorf("Google Vision API error: %s", apiErr.Get("message").String()))
	}
	if resp.StatusCode >= 300 {
		return nil, newError(classifyStatus(resp.StatusCode, ""), fmt.Errorf("google vision HTTP %d", resp.StatusCode))
	}

	response := doc.Get("responses.0")
	if !response.Exists() {
		return nil, newError(KindNoResult, errors.New("no response from Google Vision API"))
	}
	if apiErr := response.Get("error"); apiErr.Exists() {
		kind := classifyStatus(0, apiErr.Get("status").String()+" "+apiErr.Get("message").String())
		return nil, newError(kind, fmt.Errorf("Google Vision API error: %s", apiErr.Get("message").String()))
	}

	text := response.Get("textAnnotations.0.description").String()
	if text == "" {
		text = response.Get("fullTextAnnotation.text").String()
	}

	confidence := defaultConfidence
	if c := response.Get("fullTextAnnotation.pages.0.confidence").Float(); c > 0 {
		confidence = clamp01(c)
	}

	return &Result{
		SN:         ExtractSN(text),
		OtherCodes: []Code{},
		Confidence: confidence,
	}, nil
}

// ExtractSN returns the first token that looks like a full serial number,
// falling back to the first token carrying the SN prefix.
func ExtractSN(text string) string {
	// serial numbers are ASCII; anything else, CJK included, separates tokens
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isASCIIAlnum(r)
	})

	fallback := ""
	for _, tok := range tokens {
		idx := strings.Index(tok, snvalidate.Prefix)
		if idx < 0 {
			continue
		}
		candidate := tok[idx:]
		if len(candidate) >= snvalidate.Length {
			return candidate[:snvalidate.Length]
		}
		if fallback == "" {
			fallback = candidate
		}
	}
	return fallback
}

func isASCIIAlnum(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}
