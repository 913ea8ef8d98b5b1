package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"ScriptToVideo-server/config"
	"ScriptToVideo-server/models"

	"gorm.io/gorm"
)

type RenderClip struct {
	Src        string `json:"src"`
	SceneTitle string `json:"scene_title,omitempty"`
	AudioUrl   string `json:"audio_url,omitempty"` // 场景旁白，可选
}

type RenderJob struct {
	ProjectID   string       `json:"project_id"`
	Clips       []RenderClip `json:"clips"`
	AspectRatio string       `json:"aspect_ratio"`
}

type RenderStatus struct {
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"` // [0,1] 单调递增，只透传不解读
	OutputUrl string  `json:"output_url"`
	Error     string  `json:"error"`
}

// RenderEngine 外部渲染引擎：提交一个长任务，轮询到终态
type RenderEngine interface {
	Submit(ctx context.Context, job RenderJob) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (RenderStatus, error)
}

// WorkerRenderEngine 渲染 worker 的 HTTP 实现
type WorkerRenderEngine struct {
	Addr   string
	Client *http.Client
}

func NewWorkerRenderEngine(cfg *config.Config) *WorkerRenderEngine {
	return &WorkerRenderEngine{
		Addr:   cfg.Render.Addr,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *WorkerRenderEngine) Submit(ctx context.Context, job RenderJob) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Addr+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: render submit status %d", ErrBackendFailure, resp.StatusCode)
	}
	var respData struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("%w: decode render response: %v", ErrBackendFailure, err)
	}
	if respData.ID != "" {
		return respData.ID, nil
	}
	if respData.JobID != "" {
		return respData.JobID, nil
	}
	return "", fmt.Errorf("%w: render response missing id", ErrBackendFailure)
}

func (e *WorkerRenderEngine) Poll(ctx context.Context, jobID string) (RenderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Addr+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return RenderStatus{}, err
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return RenderStatus{}, err
	}
	defer resp.Body.Close()

	var status RenderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return RenderStatus{}, err
	}
	return status, nil
}

// RenderCoordinator 终端阶段：收集选中的分镜视频，提交一个渲染任务
type RenderCoordinator struct {
	DB           *gorm.DB
	Engine       RenderEngine
	PollInterval time.Duration
	PollTimeout  time.Duration
	// 转存函数可注入，测试里替换掉 MinIO
	Relocate func(sourceURL, objectName string) (string, error)
}

func NewRenderCoordinator(db *gorm.DB, engine RenderEngine) *RenderCoordinator {
	return &RenderCoordinator{
		DB:           db,
		Engine:       engine,
		PollInterval: config.PollInterval,
		PollTimeout:  config.PollTimeout,
		Relocate:     RelocateMedia,
	}
}

// CollectClips 按场景顺序收集选中视频。没有选中视频的场景直接跳过，
// 成片里就没有它；一条都没有时返回 ErrNoEligibleContent，不提交任何任务。
func CollectClips(db *gorm.DB, projectID string) ([]RenderClip, error) {
	scenes, err := models.GetScenesByProjectID(db, projectID)
	if err != nil {
		return nil, err
	}
	var clips []RenderClip
	for _, scene := range scenes {
		if scene.SelectedClipId == "" {
			continue
		}
		clip, err := models.GetClipByID(db, scene.SelectedClipId)
		if err != nil || clip.ClipUrl == "" {
			continue
		}
		clips = append(clips, RenderClip{
			Src:        clip.ClipUrl,
			SceneTitle: scene.Title,
			AudioUrl:   scene.AudioUrl,
		})
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: no scene has a selected clip", ErrNoEligibleContent)
	}
	return clips, nil
}

// Render 提交渲染任务并跟到终态。进度写回 task 记录供前端订阅；
// 成功时转存成片并置 rendered，失败回退 clips_ready。
func (c *RenderCoordinator) Render(ctx context.Context, project *models.Project, task *models.Task) error {
	clips, err := CollectClips(c.DB, project.ID)
	if err != nil {
		return err
	}

	jobID, err := c.Engine.Submit(ctx, RenderJob{
		ProjectID:   project.ID,
		Clips:       clips,
		AspectRatio: project.Config.Format,
	})
	if err != nil {
		return err
	}
	log.Printf("[Render] project %s: job %s submitted with %d clips", project.ID, jobID, len(clips))

	status, err := c.awaitRender(ctx, jobID, task)
	if err != nil {
		return err
	}
	if status.Status != JobSucceeded || status.OutputUrl == "" {
		return fmt.Errorf("%w: render failed: %s", ErrBackendFailure, status.Error)
	}

	objectName := fmt.Sprintf("projects/%s/output%s", project.ID, mediaExt(status.OutputUrl, ".mp4"))
	finalURL, err := c.Relocate(status.OutputUrl, objectName)
	if err != nil {
		return fmt.Errorf("转存成片失败: %w", err)
	}
	return models.SetProjectVideoUrl(c.DB, project.ID, finalURL)
}

func (c *RenderCoordinator) awaitRender(ctx context.Context, jobID string, task *models.Task) (RenderStatus, error) {
	deadline := time.After(c.PollTimeout)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return RenderStatus{Status: JobFailed}, ctx.Err()
		case <-deadline:
			return RenderStatus{Status: JobFailed, Error: "render polling timeout"}, nil
		case <-ticker.C:
			status, err := c.Engine.Poll(ctx, jobID)
			if err != nil {
				log.Printf("[Render] 轮询网络错误(重试中): %v", err)
				continue
			}
			if pct := int(status.Progress * 100); pct != lastProgress && task != nil {
				lastProgress = pct
				if err := task.SetProgress(c.DB, pct, ""); err != nil {
					log.Printf("[Render] 写进度失败: %v", err)
				}
			}
			switch status.Status {
			case JobSucceeded, "completed", "finished":
				status.Status = JobSucceeded
				return status, nil
			case JobFailed, "error":
				status.Status = JobFailed
				return status, nil
			}
		}
	}
}
