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

// 友好模型名 -> Replicate 模型标识
var replicateImageModels = map[string]string{
	"flux-schnell":    "black-forest-labs/flux-schnell",
	"flux-dev":        "black-forest-labs/flux-dev",
	"flux":            "black-forest-labs/flux-schnell", // 旧记录的别名
	"nano-banana":     "google/nano-banana",
	"nano-banana-pro": "google/nano-banana-pro",
}

var replicateAnimationModels = map[string]string{
	"wan-i2v": "wavespeedai/wan-2.1-i2v-480p",
	"kling":   "kwaivgi/kling-v1.6-pro",
	"minimax": "minimax/video-01-live",
}

// 各动画模型的源图参数名不一致
var replicateImageParam = map[string]string{
	"wavespeedai/wan-2.1-i2v-480p": "image",
	"kwaivgi/kling-v1.6-pro":       "start_image",
	"minimax/video-01-live":        "first_frame_image",
}

// ReplicateBackend fire-and-poll 家族：提交拿到 prediction id，再独立轮询到终态
type ReplicateBackend struct {
	BaseURL      string
	Token        string
	Client       *http.Client
	Limiter      *RateLimiter
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func NewReplicateBackend(cfg *config.Config) *ReplicateBackend {
	return &ReplicateBackend{
		BaseURL:      cfg.Backends.Replicate.Endpoint,
		Token:        cfg.Backends.Replicate.APIKey,
		Client:       &http.Client{Timeout: 30 * time.Second},
		Limiter:      NewRateLimiter(config.ReplicateSpacing()),
		PollInterval: config.PollInterval,
		PollTimeout:  config.PollTimeout,
	}
}

func (b *ReplicateBackend) Name() string { return "replicate" }

// ReplicateModels 该家族能服务的所有友好模型名，注册查找表时用
func ReplicateModels() []string {
	names := make([]string, 0, len(replicateImageModels)+len(replicateAnimationModels))
	for k := range replicateImageModels {
		names = append(names, k)
	}
	for k := range replicateAnimationModels {
		names = append(names, k)
	}
	return names
}

func resolveReplicateModel(model string) string {
	if id, ok := replicateImageModels[model]; ok {
		return id
	}
	if id, ok := replicateAnimationModels[model]; ok {
		return id
	}
	return model
}

func (b *ReplicateBackend) Submit(ctx context.Context, req GenerateRequest) (string, error) {
	modelID := resolveReplicateModel(req.Model)
	input := map[string]interface{}{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
	}
	if req.ImageUrl != "" {
		param := replicateImageParam[modelID]
		if param == "" {
			param = "image"
		}
		input[param] = req.ImageUrl
	}
	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/models/%s/predictions", b.BaseURL, modelID)
	resp, err := doWithRateLimit(ctx, b.Limiter, b.Client, func() (*http.Request, error) {
		httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+b.Token)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: replicate submit status %d", ErrBackendFailure, resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", ErrBackendFailure, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: submit response missing id", ErrBackendFailure)
	}
	return created.ID, nil
}

// Await 轮询 prediction 直到终态。超时按失败返回，绝不无限阻塞。
func (b *ReplicateBackend) Await(ctx context.Context, jobID string) (GenerateResult, error) {
	deadline := time.After(b.PollTimeout)
	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return GenerateResult{JobID: jobID, Status: JobFailed}, ctx.Err()
		case <-deadline:
			return GenerateResult{JobID: jobID, Status: JobFailed}, nil
		case <-ticker.C:
			res, terminal, err := b.pollOnce(ctx, jobID)
			if err != nil {
				// 单次轮询的网络错误继续重试，超时兜底
				continue
			}
			if terminal {
				return res, nil
			}
		}
	}
}

func (b *ReplicateBackend) pollOnce(ctx context.Context, jobID string) (GenerateResult, bool, error) {
	url := fmt.Sprintf("%s/v1/predictions/%s", b.BaseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return GenerateResult{}, false, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.Token)
	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return GenerateResult{}, false, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenerateResult{}, false, err
	}
	var pred struct {
		ID     string          `json:"id"`
		Status string          `json:"status"`
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(bodyBytes, &pred); err != nil {
		return GenerateResult{}, false, err
	}

	switch pred.Status {
	case "succeeded":
		return GenerateResult{JobID: jobID, Status: JobSucceeded, MediaUrl: firstOutputURL(pred.Output)}, true, nil
	case "failed", "canceled":
		return GenerateResult{JobID: jobID, Status: JobFailed}, true, nil
	}
	return GenerateResult{JobID: jobID, Status: JobRunning}, false, nil
}

// output 可能是字符串也可能是字符串数组，取第一个
func firstOutputURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func (b *ReplicateBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	jobID, err := b.Submit(ctx, req)
	if err != nil {
		return GenerateResult{Status: JobFailed}, err
	}
	return b.Await(ctx, jobID)
}
