package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL 默认语音播放地址
const DefaultURL = "http://localhost:8000/tts/play"

var (
	// ErrEmptyText 待合成文本为空
	ErrEmptyText = errors.New("tts text is empty")
	// ErrPlaybackFailed 后端确认播放失败
	ErrPlaybackFailed = errors.New("tts playback failed")
)

// Audio 合成结果。后端可能只在本地播放而不返回音频，此时 Data 为空。
type Audio struct {
	Data        []byte
	ContentType string
}

// Client 文字转语音客户端
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient 创建语音客户端
func NewClient(url string, httpClient *http.Client) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{url: url, httpClient: httpClient}
}

type speakRequest struct {
	Text string `json:"text"`
}

type playResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Speak 请求后端朗读文本
func (c *Client) Speak(ctx context.Context, text string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Audio{}, fmt.Errorf("failed to generate audio: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		// 后端本地播放，只返回确认
		var ack playResponse
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return Audio{}, fmt.Errorf("decode tts response: %w", err)
		}
		if !ack.Success {
			return Audio{}, fmt.Errorf("%w: %s", ErrPlaybackFailed, ack.Error)
		}
		return Audio{}, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read tts response: %w", err)
	}
	return Audio{Data: data, ContentType: contentType}, nil
}
