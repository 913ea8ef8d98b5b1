package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ScriptToVideo-server/config"
)

// Voice 旁白音色，来自语音后端，不入库
type Voice struct {
	ID         string `json:"voice_id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	PreviewUrl string `json:"preview_url,omitempty"`
}

// TTSBackend 文本转语音后端（ElevenLabs 风格接口）
type TTSBackend struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewTTSBackend(cfg *config.Config) *TTSBackend {
	return &TTSBackend{
		BaseURL: cfg.Backends.TTS.Endpoint,
		APIKey:  cfg.Backends.TTS.APIKey,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *TTSBackend) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/v1/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", b.APIKey)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list voices status %d", ErrBackendFailure, resp.StatusCode)
	}
	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode voices: %v", ErrBackendFailure, err)
	}
	return out.Voices, nil
}

// Synthesize 合成旁白音频，返回 mp3 字节
func (b *TTSBackend) Synthesize(ctx context.Context, voiceID, text, modelID string) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", b.BaseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", b.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: synthesize status %d", ErrBackendFailure, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
