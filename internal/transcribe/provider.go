package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"agent-platform/internal/config"
)

// Provider turns an audio buffer into text.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// HTTPProvider calls an OpenAI-compatible audio transcriptions endpoint with
// a multipart upload.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProvider(cfg config.STTConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (p *HTTPProvider) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if p.apiKey == "" {
		return "", errors.New("transcribe: stt api key is required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio"+extFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call transcription api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription api returned status %d", resp.StatusCode)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}

func extFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	default:
		return ".wav"
	}
}
