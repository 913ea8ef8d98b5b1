package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ScriptToVideo-server/config"
	"ScriptToVideo-server/models"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Processor 消费队列里的阶段任务。所有外部生成后端的调用都发生在这里，
// 触发请求早已返回；失败只落到任务/产物记录上，绝不向上抛。
type Processor struct {
	DB       *gorm.DB
	Backends *BackendRegistry
	LLM      *LLMBackend
	TTS      *TTSBackend
	Render   *RenderCoordinator

	imageStrategy     string
	animationStrategy string

	// 转存/上传可注入，测试里替换掉 MinIO
	Relocate    func(sourceURL, objectName string) (string, error)
	UploadAudio func(data []byte, objectName string) (string, error)
}

func NewProcessor(db *gorm.DB) *Processor {
	cfg := config.AppConfig
	registry := NewBackendRegistry()

	// 查找表按 provider 配置注册：同一批友好模型名路由到不同家族
	if cfg.Backends.ImageProvider == "fal" || cfg.Backends.AnimationProvider == "fal" {
		fal := NewFalBackend(cfg)
		registry.Register(fal, FalModels()...)
	}
	if cfg.Backends.ImageProvider != "fal" || cfg.Backends.AnimationProvider != "fal" {
		replicate := NewReplicateBackend(cfg)
		if cfg.Backends.ImageProvider != "fal" {
			registry.Register(replicate, imageModelNames()...)
		}
		if cfg.Backends.AnimationProvider != "fal" {
			registry.Register(replicate, animationModelNames()...)
		}
	}

	return &Processor{
		DB:                db,
		Backends:          registry,
		LLM:               NewLLMBackend(cfg),
		TTS:               NewTTSBackend(cfg),
		Render:            NewRenderCoordinator(db, NewWorkerRenderEngine(cfg)),
		imageStrategy:     providerStrategy(cfg.Backends.ImageProvider),
		animationStrategy: providerStrategy(cfg.Backends.AnimationProvider),
		Relocate:          RelocateMedia,
		UploadAudio:       UploadBytesToMinIO,
	}
}

func imageModelNames() []string {
	names := make([]string, 0, len(replicateImageModels))
	for k := range replicateImageModels {
		names = append(names, k)
	}
	return names
}

func animationModelNames() []string {
	names := make([]string, 0, len(replicateAnimationModels))
	for k := range replicateAnimationModels {
		names = append(names, k)
	}
	return names
}

// fal 内部排队严格，走串行；replicate 容忍并发提交，走并行先发后轮询
func providerStrategy(provider string) string {
	if provider == "fal" {
		return StrategySequential
	}
	return StrategyParallel
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineTask, p.HandlePipelineTask)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandlePipelineTask 按任务类型派发。业务失败返回 nil（不触发队列重试），
// 失败已记录在 task / 产物上。
func (p *Processor) HandlePipelineTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetTaskByID(p.DB, payload.TaskID)
	if err != nil {
		return fmt.Errorf("task not found: %v", err)
	}
	log.Printf("Processing Task: %s | Type: %s", task.ID, task.Type)
	if err := task.MarkProcessing(p.DB); err != nil {
		log.Printf("MarkProcessing failed: %v", err)
	}

	project, err := models.GetProjectByID(p.DB, task.ProjectId)
	if err != nil {
		task.Finish(p.DB, models.TaskStatusFailed, nil, "project not found")
		return nil
	}

	var stageErr error
	switch task.Type {
	case models.TaskTypeSplit:
		stageErr = p.handleSplit(ctx, task, project)
	case models.TaskTypeImages:
		stageErr = p.handleGenerateImages(ctx, task, project)
	case models.TaskTypeClips:
		stageErr = p.handleGenerateClips(ctx, task, project)
	case models.TaskTypeNarration:
		stageErr = p.handleNarration(ctx, task, project)
	case models.TaskTypeRender:
		stageErr = p.handleRender(ctx, task, project)
	case models.TaskTypeRegenImage:
		stageErr = p.handleRegenImage(ctx, task, project)
	case models.TaskTypeRegenClip:
		stageErr = p.handleRegenClip(ctx, task, project)
	default:
		stageErr = fmt.Errorf("unknown task type: %s", task.Type)
	}

	if stageErr != nil {
		log.Printf("[Error] 阶段执行失败: %v", stageErr)
		task.Finish(p.DB, models.TaskStatusFailed, nil, stageErr.Error())
		return nil
	}
	log.Printf("Task %s completed successfully", task.ID)
	return nil
}

// ============================================================================
// 各阶段处理
// ============================================================================

// handleSplit 剧本 -> 场景。拆分成功后顺带为每个场景生成生图提示词
// （LLM 配额严格，全程串行）。失败回退 draft，绝不卡在 splitting。
func (p *Processor) handleSplit(ctx context.Context, task *models.Task, project *models.Project) error {
	if !AcquireStage(project.ID, models.ProjectStatusSplitting) {
		return fmt.Errorf("%w: split already running for project %s", ErrStageRunning, project.ID)
	}
	defer ReleaseStage(project.ID, models.ProjectStatusSplitting)

	splits, err := p.LLM.SplitScript(ctx, project.ScriptText, project.Config.MaxScenes)
	if err == nil && len(splits) == 0 {
		err = fmt.Errorf("%w: split produced no scenes", ErrBackendFailure)
	}
	if err != nil {
		RollbackStage(p.DB, project.ID, models.ProjectStatusSplitting)
		return err
	}

	scenes := make([]models.Scene, 0, len(splits))
	for i, split := range splits {
		order := split.SceneNumber
		if order == 0 {
			order = i + 1
		}
		imagePrompt, err := p.LLM.ImagePrompt(ctx, split.NarrativeText, split.Title, project.Config.StylePrefix)
		if err != nil {
			log.Printf("场景 %d 提示词生成失败: %v", order, err)
			imagePrompt = ""
		}
		scenes = append(scenes, models.Scene{
			ID:             uuid.NewString(),
			ProjectId:      project.ID,
			Order:          order,
			Title:          split.Title,
			NarrativeText:  split.NarrativeText,
			StartTimestamp: split.StartTimestamp,
			EndTimestamp:   split.EndTimestamp,
			Tags:           models.StringList(split.Tags),
			ImagePrompt:    imagePrompt,
			Status:         models.SceneStatusPending,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		})
	}

	// 旧场景连同其下所有图片/视频一并替换
	if err := models.ReplaceProjectScenes(p.DB, project.ID, scenes); err != nil {
		RollbackStage(p.DB, project.ID, models.ProjectStatusSplitting)
		return fmt.Errorf("写入场景失败: %w", err)
	}
	if err := CompleteStage(p.DB, project.ID, models.ProjectStatusScenesReady); err != nil {
		return err
	}
	log.Printf("Successfully created %d scenes for project %s", len(scenes), project.ID)
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "scenes",
		Succeeded:    len(scenes),
	}, "")
}

// handleGenerateImages 批量生图。task.SceneId 非空时只处理单个场景
// （重生成入口），不动项目状态。
func (p *Processor) handleGenerateImages(ctx context.Context, task *models.Task, project *models.Project) error {
	projectWide := task.SceneId == ""
	if projectWide {
		if !AcquireStage(project.ID, models.ProjectStatusGeneratingImages) {
			return fmt.Errorf("%w: image batch already running for project %s", ErrStageRunning, project.ID)
		}
		defer ReleaseStage(project.ID, models.ProjectStatusGeneratingImages)
	}

	scenes, err := p.eligibleScenes(task, project, func(s models.Scene) bool { return s.ImagePrompt != "" })
	if err != nil {
		if projectWide {
			CompleteStage(p.DB, project.ID, models.ProjectStatusScenesReady)
		}
		return err
	}

	// 先把全部记录建好（processing），再批量执行
	var images []models.GeneratedImage
	for _, scene := range scenes {
		for _, model := range project.Config.ImageModels {
			count := project.Config.ImagesPerScene
			if count <= 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				images = append(images, models.GeneratedImage{
					ID:         uuid.NewString(),
					SceneId:    scene.ID,
					Model:      model,
					Prompt:     scene.ImagePrompt,
					Status:     models.ArtifactStatusProcessing,
					Generation: 1,
					CreatedAt:  time.Now(),
					UpdatedAt:  time.Now(),
				})
			}
		}
	}
	if err := models.BatchCreateImages(p.DB, images); err != nil {
		return fmt.Errorf("创建图片记录失败: %w", err)
	}

	items := make([]BatchItem, 0, len(images))
	for _, img := range images {
		items = append(items, p.imageItem(img, project.Config.Format))
	}
	outcomes, err := RunBatch(ctx, items, p.imageStrategy)
	if err != nil {
		return err
	}

	// 部分失败不影响收尾：全部条目到达终态即迁移
	if projectWide {
		if err := CompleteStage(p.DB, project.ID, models.ProjectStatusImagesReady); err != nil {
			return err
		}
	}
	succeeded, failed := CountOutcomes(outcomes)
	log.Printf("图片批次完成: project=%s succeeded=%d failed=%d", project.ID, succeeded, failed)
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "images",
		Succeeded:    succeeded,
		Failed:       failed,
	}, "")
}

// imageItem 单张图的完整执行：解析后端、生成到终态、转存、立即落库。
// 带 generation 写回，期间被重生成过的记录按 no-op 丢弃。
func (p *Processor) imageItem(img models.GeneratedImage, aspectRatio string) BatchItem {
	return BatchItem{
		ID: img.ID,
		Run: func(ctx context.Context) error {
			backend, err := p.Backends.Resolve(img.Model)
			if err != nil {
				models.FinishImage(p.DB, img.ID, img.Generation, "", "", models.ArtifactStatusFailed)
				return err
			}
			res, err := backend.Generate(ctx, GenerateRequest{
				Model:       img.Model,
				Prompt:      img.Prompt,
				AspectRatio: aspectRatio,
			})
			if err != nil || res.Status != JobSucceeded || res.MediaUrl == "" {
				models.FinishImage(p.DB, img.ID, img.Generation, res.JobID, "", models.ArtifactStatusFailed)
				if err != nil {
					return err
				}
				return fmt.Errorf("%w: image generation did not succeed", ErrBackendFailure)
			}
			objectName := fmt.Sprintf("scenes/%s/images/%s%s", img.SceneId, img.ID, mediaExt(res.MediaUrl, ".png"))
			finalURL, err := p.Relocate(res.MediaUrl, objectName)
			if err != nil {
				models.FinishImage(p.DB, img.ID, img.Generation, res.JobID, "", models.ArtifactStatusFailed)
				return fmt.Errorf("转存图片失败: %w", err)
			}
			return models.FinishImage(p.DB, img.ID, img.Generation, res.JobID, finalURL, models.ArtifactStatusCompleted)
		},
	}
}

// handleGenerateClips 选中图 -> 图生视频。场景内先补动画提示词再发任务
// （场景内有序），场景之间无顺序要求。
func (p *Processor) handleGenerateClips(ctx context.Context, task *models.Task, project *models.Project) error {
	projectWide := task.SceneId == ""
	if projectWide {
		if !AcquireStage(project.ID, models.ProjectStatusGeneratingClips) {
			return fmt.Errorf("%w: clip batch already running for project %s", ErrStageRunning, project.ID)
		}
		defer ReleaseStage(project.ID, models.ProjectStatusGeneratingClips)
	}

	scenes, err := p.eligibleScenes(task, project, func(s models.Scene) bool { return s.SelectedImageId != "" })
	if err != nil {
		if projectWide {
			CompleteStage(p.DB, project.ID, models.ProjectStatusImagesReady)
		}
		return err
	}

	var items []BatchItem
	clipTotal := 0
	for _, scene := range scenes {
		sourceImage, err := models.GetImageByID(p.DB, scene.SelectedImageId)
		if err != nil || sourceImage.ImageUrl == "" {
			log.Printf("场景 %s 选中图不可用，跳过", scene.ID)
			continue
		}

		animPrompt := scene.AnimationPrompt
		if animPrompt == "" {
			animPrompt, err = p.LLM.AnimationPrompt(ctx, scene.NarrativeText, scene.Title)
			if err != nil {
				log.Printf("场景 %s 动画提示词生成失败，跳过: %v", scene.ID, err)
				continue
			}
			if err := models.UpdateScenePrompts(p.DB, scene.ID, nil, &animPrompt); err != nil {
				log.Printf("写动画提示词失败: %v", err)
			}
		}

		var clips []models.GeneratedClip
		for _, model := range project.Config.AnimationModels {
			clips = append(clips, models.GeneratedClip{
				ID:              uuid.NewString(),
				SceneId:         scene.ID,
				SourceImageId:   sourceImage.ID,
				Model:           model,
				AnimationPrompt: animPrompt,
				Status:          models.ArtifactStatusProcessing,
				Generation:      1,
				CreatedAt:       time.Now(),
				UpdatedAt:       time.Now(),
			})
		}
		if err := models.BatchCreateClips(p.DB, clips); err != nil {
			log.Printf("创建视频记录失败: %v", err)
			continue
		}
		for _, clip := range clips {
			items = append(items, p.clipItem(clip, sourceImage.ImageUrl, project.Config.Format))
		}
		clipTotal += len(clips)
	}

	outcomes, err := RunBatch(ctx, items, p.animationStrategy)
	if err != nil {
		if projectWide {
			CompleteStage(p.DB, project.ID, models.ProjectStatusImagesReady)
		}
		return err
	}

	if projectWide {
		if err := CompleteStage(p.DB, project.ID, models.ProjectStatusClipsReady); err != nil {
			return err
		}
	}
	succeeded, failed := CountOutcomes(outcomes)
	log.Printf("视频批次完成: project=%s succeeded=%d failed=%d", project.ID, succeeded, failed)
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "clips",
		Succeeded:    succeeded,
		Failed:       failed,
	}, "")
}

func (p *Processor) clipItem(clip models.GeneratedClip, imageUrl, aspectRatio string) BatchItem {
	return BatchItem{
		ID: clip.ID,
		Run: func(ctx context.Context) error {
			backend, err := p.Backends.Resolve(clip.Model)
			if err != nil {
				models.FinishClip(p.DB, clip.ID, clip.Generation, "", "", models.ArtifactStatusFailed)
				return err
			}
			res, err := backend.Generate(ctx, GenerateRequest{
				Model:       clip.Model,
				Prompt:      clip.AnimationPrompt,
				ImageUrl:    imageUrl,
				AspectRatio: aspectRatio,
			})
			if err != nil || res.Status != JobSucceeded || res.MediaUrl == "" {
				models.FinishClip(p.DB, clip.ID, clip.Generation, res.JobID, "", models.ArtifactStatusFailed)
				if err != nil {
					return err
				}
				return fmt.Errorf("%w: clip generation did not succeed", ErrBackendFailure)
			}
			objectName := fmt.Sprintf("scenes/%s/clips/%s%s", clip.SceneId, clip.ID, mediaExt(res.MediaUrl, ".mp4"))
			finalURL, err := p.Relocate(res.MediaUrl, objectName)
			if err != nil {
				models.FinishClip(p.DB, clip.ID, clip.Generation, res.JobID, "", models.ArtifactStatusFailed)
				return fmt.Errorf("转存视频失败: %w", err)
			}
			return models.FinishClip(p.DB, clip.ID, clip.Generation, res.JobID, finalURL, models.ArtifactStatusCompleted)
		},
	}
}

// handleNarration 旁白按场景 best-effort：单场景失败记日志跳过，
// 不中断批次；整体失败才回退 clips_ready。
func (p *Processor) handleNarration(ctx context.Context, task *models.Task, project *models.Project) error {
	if !AcquireStage(project.ID, models.ProjectStatusGeneratingNarration) {
		return fmt.Errorf("%w: narration already running for project %s", ErrStageRunning, project.ID)
	}
	defer ReleaseStage(project.ID, models.ProjectStatusGeneratingNarration)

	scenes, err := models.GetScenesByProjectID(p.DB, project.ID)
	if err != nil {
		RollbackStage(p.DB, project.ID, models.ProjectStatusGeneratingNarration)
		return err
	}

	succeeded, failed := 0, 0
	for _, scene := range scenes {
		if scene.AudioUrl != "" {
			continue // 已有旁白的场景跳过
		}
		audio, err := p.TTS.Synthesize(ctx, project.Config.VoiceID, scene.NarrativeText, project.Config.TTSModel)
		if err != nil {
			log.Printf("场景 %s 旁白合成失败，跳过: %v", scene.ID, err)
			failed++
			continue
		}
		objectName := fmt.Sprintf("scenes/%s/narration.mp3", scene.ID)
		audioUrl, err := p.UploadAudio(audio, objectName)
		if err != nil {
			log.Printf("场景 %s 旁白上传失败，跳过: %v", scene.ID, err)
			failed++
			continue
		}
		if err := models.SetSceneAudioUrl(p.DB, scene.ID, audioUrl); err != nil {
			log.Printf("场景 %s 旁白落库失败: %v", scene.ID, err)
			failed++
			continue
		}
		succeeded++
	}

	if err := CompleteStage(p.DB, project.ID, models.ProjectStatusNarrationReady); err != nil {
		return err
	}
	log.Printf("旁白批次完成: project=%s succeeded=%d failed=%d", project.ID, succeeded, failed)
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "audio",
		Succeeded:    succeeded,
		Failed:       failed,
	}, "")
}

// handleRender 整片渲染，终端阶段
func (p *Processor) handleRender(ctx context.Context, task *models.Task, project *models.Project) error {
	if !AcquireStage(project.ID, models.ProjectStatusRendering) {
		return fmt.Errorf("%w: render already running for project %s", ErrStageRunning, project.ID)
	}
	defer ReleaseStage(project.ID, models.ProjectStatusRendering)

	if err := p.Render.Render(ctx, project, task); err != nil {
		RollbackStage(p.DB, project.ID, models.ProjectStatusRendering)
		return err
	}
	if err := CompleteStage(p.DB, project.ID, models.ProjectStatusRendered); err != nil {
		return err
	}
	updated, err := models.GetProjectByID(p.DB, project.ID)
	result := &models.TaskResult{ResourceType: "video", ResourceId: project.ID}
	if err == nil {
		result.ResourceUrl = updated.VideoUrl
	}
	return task.Finish(p.DB, models.TaskStatusSuccess, result, "")
}

// handleRegenImage 单张图重生成。记录已在触发时重置并 generation+1，
// 这里只负责发新任务并按代次写回；可能仍在飞的旧任务写回会被丢弃。
func (p *Processor) handleRegenImage(ctx context.Context, task *models.Task, project *models.Project) error {
	img, err := models.GetImageByID(p.DB, task.ArtifactId)
	if err != nil {
		return fmt.Errorf("%w: image %s", ErrNotFound, task.ArtifactId)
	}
	item := p.imageItem(*img, project.Config.Format)
	if err := item.Run(ctx); err != nil {
		return err
	}
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "image",
		ResourceId:   img.ID,
		Succeeded:    1,
	}, "")
}

func (p *Processor) handleRegenClip(ctx context.Context, task *models.Task, project *models.Project) error {
	clip, err := models.GetClipByID(p.DB, task.ArtifactId)
	if err != nil {
		return fmt.Errorf("%w: clip %s", ErrNotFound, task.ArtifactId)
	}
	sourceImage, err := models.GetImageByID(p.DB, clip.SourceImageId)
	if err != nil || sourceImage.ImageUrl == "" {
		return fmt.Errorf("%w: source image unavailable for clip %s", ErrValidation, clip.ID)
	}
	item := p.clipItem(*clip, sourceImage.ImageUrl, project.Config.Format)
	if err := item.Run(ctx); err != nil {
		return err
	}
	return task.Finish(p.DB, models.TaskStatusSuccess, &models.TaskResult{
		ResourceType: "clip",
		ResourceId:   clip.ID,
		Succeeded:    1,
	}, "")
}

// eligibleScenes 选出本阶段可处理的场景；task.SceneId 非空时限定单场景
func (p *Processor) eligibleScenes(task *models.Task, project *models.Project, ok func(models.Scene) bool) ([]models.Scene, error) {
	if task.SceneId != "" {
		scene, err := models.GetSceneByID(p.DB, task.SceneId)
		if err != nil {
			return nil, fmt.Errorf("%w: scene %s", ErrNotFound, task.SceneId)
		}
		if !ok(*scene) {
			return nil, fmt.Errorf("%w: scene %s not eligible", ErrValidation, task.SceneId)
		}
		return []models.Scene{*scene}, nil
	}
	all, err := models.GetScenesByProjectID(p.DB, project.ID)
	if err != nil {
		return nil, err
	}
	var eligible []models.Scene
	for _, s := range all {
		if ok(s) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no eligible scenes", ErrValidation)
	}
	return eligible, nil
}
