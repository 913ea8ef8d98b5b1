package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"ScriptToVideo-server/config"
)

// SceneSplit 拆分结果的单个场景
type SceneSplit struct {
	SceneNumber    int      `json:"sceneNumber"`
	Title          string   `json:"title"`
	NarrativeText  string   `json:"narrativeText"`
	StartTimestamp string   `json:"startTimestamp"`
	EndTimestamp   string   `json:"endTimestamp"`
	Tags           []string `json:"tags"`
}

// LLMBackend 文本后端：剧本拆分 + 图像/动画提示词生成。
// 配额按分钟计且极严，所有调用共用一个间隔时钟，必须串行。
type LLMBackend struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
	Limiter *RateLimiter
}

func NewLLMBackend(cfg *config.Config) *LLMBackend {
	return &LLMBackend{
		BaseURL: cfg.Backends.LLM.Endpoint,
		APIKey:  cfg.Backends.LLM.APIKey,
		Model:   cfg.Backends.LLM.Model,
		Client:  &http.Client{Timeout: 120 * time.Second},
		Limiter: NewRateLimiter(config.LLMSpacing()),
	}
}

// complete 一次补全调用，带限流与 429 重试
func (b *LLMBackend) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":      b.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", err
	}

	url := b.BaseURL + "/v1/messages"
	resp, err := doWithRateLimit(ctx, b.Limiter, b.Client, func() (*http.Request, error) {
		httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("x-api-key", b.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: llm status %d", ErrBackendFailure, resp.StatusCode)
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode llm response: %v", ErrBackendFailure, err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: llm response has no text block", ErrBackendFailure)
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// stripJSONFence 模型偶尔会把 JSON 包在 markdown 代码块里
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if m := jsonFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// SplitScript 把剧本拆成有序场景列表
func (b *LLMBackend) SplitScript(ctx context.Context, scriptText string, maxScenes int) ([]SceneSplit, error) {
	maxScenesInstruction := "Split the script into as many scenes as appropriate."
	if maxScenes > 0 {
		maxScenesInstruction = fmt.Sprintf("Split the script into at most %d scenes.", maxScenes)
	}
	prompt := fmt.Sprintf(`You are a script analyst. Analyze the following narrative script and split it into coherent visual scenes.

Rules:
- Split based on changes in location, action, mood, or character focus, not mechanically by paragraph.
- Each scene should represent a distinct visual moment that could be illustrated as a single image.
- Use the timestamps from the script (e.g., [00:10], [01:19]) to assign start and end timestamps.
- Generate a short descriptive title for each scene.
- Generate relevant descriptive tags.
- %s

Return ONLY a JSON array with this exact structure (no other text):
[
  {
    "sceneNumber": 1,
    "title": "Short scene title",
    "narrativeText": "The narrative text for this scene",
    "startTimestamp": "00:00",
    "endTimestamp": "00:10",
    "tags": ["tag1", "tag2"]
  }
]

Script:
%s`, maxScenesInstruction, scriptText)

	text, err := b.complete(ctx, prompt, 4096)
	if err != nil {
		return nil, err
	}
	var scenes []SceneSplit
	if err := json.Unmarshal([]byte(stripJSONFence(text)), &scenes); err != nil {
		return nil, fmt.Errorf("%w: parse scene split json: %v", ErrBackendFailure, err)
	}
	return scenes, nil
}

// ImagePrompt 为场景生成文生图提示词
func (b *LLMBackend) ImagePrompt(ctx context.Context, narrativeText, sceneTitle, stylePrefix string) (string, error) {
	prompt := fmt.Sprintf(`You are a visual prompt engineer for AI image generation. Generate a detailed image generation prompt for the following scene.

Scene title: %s
Narrative text: %s

Style prefix to prepend: "%s"

Rules:
- Describe the visual scene in vivid detail: characters, setting, lighting, camera angle, composition.
- Include mood and atmosphere descriptions.
- Prepend the style prefix at the beginning.
- Return ONLY the prompt text, nothing else. No quotes, no explanation.`, sceneTitle, narrativeText, stylePrefix)

	text, err := b.complete(ctx, prompt, 1024)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// AnimationPrompt 为选中图生成图生视频的运镜提示词
func (b *LLMBackend) AnimationPrompt(ctx context.Context, narrativeText, sceneTitle string) (string, error) {
	prompt := fmt.Sprintf(`You are a cinematic animation prompt engineer. Generate a detailed animation prompt to animate a still image into a short video clip.

Scene title: %s
Narrative text: %s

Rules:
- Describe camera movement: slow pan, zoom in/out, tracking shot, dolly, tilt.
- Specify movement speed and direction.
- Describe any character or object motion in the scene.
- Include mood and pacing.
- Keep it concise but specific enough for an image-to-video AI model.
- Return ONLY the animation prompt text, nothing else. No quotes, no explanation.`, sceneTitle, narrativeText)

	text, err := b.complete(ctx, prompt, 1024)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
