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
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/tidwall/gjson"
)

const systemInstruction = `你是一个高速OCR助手，专门识别物流标签上的编码。
规则：
1. 忽略所有二维码、条形码图形、扫码文字。
2. 仅提取：SN(序列号)。
3. 忽略 SKU、MAC、日期等其他信息。
4. 如果图中找不到SN，返回 null。
5. 严禁输出任何解释性文字。
6. 必须返回有效的JSON格式，包含以下字段：sn, other_codes, confidence。`

const userInstruction = `仅提取SN（序列号）。严禁提取SKU、MAC、P/N等其他编码。返回JSON：{"sn": "序列号或null", "other_codes": [], "confidence": 0.9}。`

// ArkClient talks to an OpenAI-compatible chat completions endpoint
// (Volcengine Ark by default) with the label image attached as a data URI.
type ArkClient struct {
	apiKey   string
	endpoint string
	model    string
	client   *retryablehttp.Client
}

func NewArkClient(config *Config) (*ArkClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, newError(KindNotConfigured, errors.New("ark API key is not set (ARK_API_KEY)"))
	}

	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = defaultArkBaseURL
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = defaultArkModel
	}

	return &ArkClient{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(baseURL, "/") + "/chat/completions",
		model:    model,
		client:   newRetryClient(config),
	}, nil
}

func newRetryClient(config *Config) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		rc.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		rc.RetryWaitMax = config.RetryWaitMax
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc.HTTPClient.Timeout = timeout
	// keep the final response so status codes can be classified
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (c *ArkClient) Recognize(ctx context.Context, imageData []byte) (*Result, error) {
	if len(imageData) < minImageBytes {
		return nil, newError(KindInvalidImage, fmt.Errorf("image too small (%d bytes)", len(imageData)))
	}

	imageBase64 := base64.StdEncoding.EncodeToString(imageData)

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{
				Role: "user",
				Content: []contentPart{
					{
						Type:     "image_url",
						ImageURL: &imageURL{URL: "data:image/jpeg;base64," + imageBase64},
					},
					{Type: "text", Text: userInstruction},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, jsonData)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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

	if resp.StatusCode >= 300 {
		message := gjson.GetBytes(body, "error.message").String()
		if message == "" {
			message = strings.TrimSpace(string(body))
		}
		kind := classifyStatus(resp.StatusCode, message)
		logging.Log.Debugf("[ocr] ark HTTP %d (%s): %s", resp.StatusCode, kind, message)
		return nil, newError(kind, fmt.Errorf("ark API error (HTTP %d): %s", resp.StatusCode, message))
	}

	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, newError(classifyStatus(0, msg.String()), fmt.Errorf("ark API error: %s", msg.String()))
	}

	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, newError(KindNoResult, errors.New("empty completion"))
	}

	return ParseContent(content)
}
