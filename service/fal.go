package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ScriptToVideo-server/config"
)

var falImageModels = map[string]string{
	"flux-schnell":    "fal-ai/flux/schnell",
	"flux-dev":        "fal-ai/flux/dev",
	"flux":            "fal-ai/flux/schnell",
	"nano-banana":     "fal-ai/nano-banana",
	"nano-banana-pro": "fal-ai/nano-banana-pro",
}

var falClipModels = map[string]string{
	"wan-i2v": "fal-ai/wan-i2v",
	"kling":   "fal-ai/kling-video/v1.6/pro/image-to-video",
	"minimax": "fal-ai/minimax/video-01/image-to-video",
}

var falImageSize = map[string]string{
	"16:9": "landscape_16_9",
	"9:16": "portrait_16_9",
	"1:1":  "square_hd",
}

// FalBackend blocking-subscribe 家族：一次调用内部等到终态才返回，
// 没有独立的轮询步骤，但对编排层暴露同样的 {status, output} 形状。
type FalBackend struct {
	BaseURL string
	Key     string
	Client  *http.Client
}

func NewFalBackend(cfg *config.Config) *FalBackend {
	return &FalBackend{
		BaseURL: cfg.Backends.Fal.Endpoint,
		Key:     cfg.Backends.Fal.APIKey,
		// subscribe 语义：HTTP 超时就是任务等待上限
		Client: &http.Client{Timeout: config.PollTimeout},
	}
}

func (b *FalBackend) Name() string { return "fal" }

func FalModels() []string {
	names := make([]string, 0, len(falImageModels)+len(falClipModels))
	for k := range falImageModels {
		names = append(names, k)
	}
	for k := range falClipModels {
		names = append(names, k)
	}
	return names
}

func (b *FalBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	var modelID string
	var input map[string]interface{}

	if req.ImageUrl == "" {
		modelID = falImageModels[req.Model]
		if modelID == "" {
			return GenerateResult{Status: JobFailed}, fmt.Errorf("%w: unknown fal image model %q", ErrValidation, req.Model)
		}
		// nano-banana 系列直接收画幅比例，flux 系列收 image_size 枚举
		if req.Model == "nano-banana" || req.Model == "nano-banana-pro" {
			input = map[string]interface{}{
				"prompt":        req.Prompt,
				"aspect_ratio":  req.AspectRatio,
				"num_images":    1,
				"output_format": "png",
			}
			if req.Model == "nano-banana-pro" {
				input["resolution"] = "2K"
			}
		} else {
			size := falImageSize[req.AspectRatio]
			if size == "" {
				size = "landscape_16_9"
			}
			input = map[string]interface{}{
				"prompt":        req.Prompt,
				"image_size":    size,
				"num_images":    1,
				"output_format": "png",
			}
		}
	} else {
		modelID = falClipModels[req.Model]
		if modelID == "" {
			return GenerateResult{Status: JobFailed}, fmt.Errorf("%w: unknown fal clip model %q", ErrValidation, req.Model)
		}
		switch req.Model {
		case "wan-i2v":
			input = map[string]interface{}{
				"image_url":    req.ImageUrl,
				"prompt":       req.Prompt,
				"aspect_ratio": req.AspectRatio,
				"resolution":   "480p",
			}
		case "kling":
			input = map[string]interface{}{
				"image_url":    req.ImageUrl,
				"prompt":       req.Prompt,
				"aspect_ratio": req.AspectRatio,
			}
		default:
			// minimax 不支持 aspect_ratio
			input = map[string]interface{}{
				"image_url": req.ImageUrl,
				"prompt":    req.Prompt,
			}
		}
	}

	body, err := json.Marshal(input)
	if err != nil {
		return GenerateResult{Status: JobFailed}, err
	}
	url := fmt.Sprintf("%s/%s", b.BaseURL, modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return GenerateResult{Status: JobFailed}, err
	}
	httpReq.Header.Set("Authorization", "Key "+b.Key)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return GenerateResult{Status: JobFailed}, fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GenerateResult{Status: JobFailed}, fmt.Errorf("%w: fal status %d", ErrBackendFailure, resp.StatusCode)
	}

	var out struct {
		RequestID string `json:"request_id"`
		Images    []struct {
			Url string `json:"url"`
		} `json:"images"`
		Video *struct {
			Url string `json:"url"`
		} `json:"video"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateResult{Status: JobFailed}, fmt.Errorf("%w: decode fal response: %v", ErrBackendFailure, err)
	}

	mediaUrl := ""
	if len(out.Images) > 0 {
		mediaUrl = out.Images[0].Url
	} else if out.Video != nil {
		mediaUrl = out.Video.Url
	}
	status := JobSucceeded
	if mediaUrl == "" {
		status = JobFailed
	}
	return GenerateResult{JobID: out.RequestID, Status: status, MediaUrl: mediaUrl}, nil
}
