package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ScriptToVideo-server/config"
)

// 外部任务状态，两类后端统一对齐到这三个值
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

type GenerateRequest struct {
	Model       string // 友好模型名，由各后端自行映射成服务端标识
	Prompt      string
	ImageUrl    string // 图生视频时的源图
	AspectRatio string
}

type GenerateResult struct {
	JobID    string
	Status   string // JobSucceeded / JobFailed
	MediaUrl string
}

// GenerationBackend 统一的生成后端契约。
// Generate 返回时任务必定处于终态（fire-and-poll 后端内部完成轮询，
// blocking-subscribe 后端天然如此），编排层不感知差异。
type GenerationBackend interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// AsyncBackend 支持拆开的提交/轮询两步，供并行批次先全部提交再各自轮询
type AsyncBackend interface {
	GenerationBackend
	Submit(ctx context.Context, req GenerateRequest) (jobID string, err error)
	Await(ctx context.Context, jobID string) (GenerateResult, error)
}

// BackendRegistry 模型名 -> 后端实例的查找表
type BackendRegistry struct {
	byModel map[string]GenerationBackend
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{byModel: make(map[string]GenerationBackend)}
}

func (r *BackendRegistry) Register(backend GenerationBackend, models ...string) {
	for _, m := range models {
		r.byModel[m] = backend
	}
}

func (r *BackendRegistry) Resolve(model string) (GenerationBackend, error) {
	b, ok := r.byModel[model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrValidation, model)
	}
	return b, nil
}

// parseRetryAfter 读取 429 响应的 Retry-After 秒数，缺失或非法时用默认值
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return config.DefaultRetryAfter
}

// doWithRateLimit 带间隔与限流重试地执行一次请求。
// 每次尝试前等待间隔时钟；收到 429 时按 Retry-After 休眠并重置时钟，
// 最多重试 config.RateLimitMaxRetries 次，耗尽后按永久失败返回。
func doWithRateLimit(ctx context.Context, limiter *RateLimiter, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendFailure, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		delay := parseRetryAfter(resp)
		resp.Body.Close()
		if attempt >= config.RateLimitMaxRetries {
			return nil, fmt.Errorf("%w: rate limit retries exhausted", ErrBackendFailure)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		limiter.Rearm()
	}
}
