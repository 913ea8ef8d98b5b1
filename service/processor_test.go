package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ScriptToVideo-server/models"

	"github.com/google/uuid"
)

type stubBackend struct {
	name   string
	result GenerateResult
	err    error
	calls  int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	s.calls++
	return s.result, s.err
}

func TestHandleGenerateImages(t *testing.T) {
	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusGeneratingImages)
	p.Config.ImageModels = []string{"stub-model"}
	p.Config.ImagesPerScene = 2
	if err := models.UpdateProjectConfig(db, p.ID, p.Config); err != nil {
		t.Fatal(err)
	}
	scene := seedScene(t, db, p.ID, 1)

	backend := &stubBackend{
		name:   "stub",
		result: GenerateResult{JobID: "job-1", Status: JobSucceeded, MediaUrl: "https://backend/out.png"},
	}
	registry := NewBackendRegistry()
	registry.Register(backend, "stub-model")

	proc := &Processor{
		DB:                db,
		Backends:          registry,
		imageStrategy:     StrategySequential,
		animationStrategy: StrategySequential,
		Relocate: func(src, obj string) (string, error) {
			return "http://minio/" + obj, nil
		},
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeImages,
		Status:    models.TaskStatusProcessing,
	}
	if err := models.CreateTask(db, task); err != nil {
		t.Fatal(err)
	}

	if err := proc.handleGenerateImages(context.Background(), task, p); err != nil {
		t.Fatalf("handleGenerateImages 失败: %v", err)
	}

	images, err := models.GetImagesBySceneID(db, scene.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 2 {
		t.Fatalf("图片记录数 = %d, want 2", len(images))
	}
	for _, img := range images {
		if img.Status != models.ArtifactStatusCompleted {
			t.Errorf("图片状态 = %s", img.Status)
		}
		if img.ImageUrl == "" {
			t.Error("图片 URL 未写回")
		}
	}
	if backend.calls != 2 {
		t.Errorf("后端调用次数 = %d, want 2", backend.calls)
	}

	stored, _ := models.GetProjectByID(db, p.ID)
	if stored.Status != models.ProjectStatusImagesReady {
		t.Errorf("项目状态 = %s, want images_ready", stored.Status)
	}
	storedTask, _ := models.GetTaskByID(db, task.ID)
	if storedTask.Status != models.TaskStatusSuccess {
		t.Errorf("任务状态 = %s", storedTask.Status)
	}
	if storedTask.Result.Succeeded != 2 || storedTask.Result.Failed != 0 {
		t.Errorf("result = %+v", storedTask.Result)
	}
}

func TestHandleGenerateImagesAllFailStillCompletes(t *testing.T) {
	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusGeneratingImages)
	p.Config.ImageModels = []string{"stub-model"}
	p.Config.ImagesPerScene = 1
	if err := models.UpdateProjectConfig(db, p.ID, p.Config); err != nil {
		t.Fatal(err)
	}
	scene := seedScene(t, db, p.ID, 1)

	backend := &stubBackend{
		name: "stub",
		err:  fmt.Errorf("%w: backend down", ErrBackendFailure),
	}
	registry := NewBackendRegistry()
	registry.Register(backend, "stub-model")

	proc := &Processor{
		DB:            db,
		Backends:      registry,
		imageStrategy: StrategySequential,
		Relocate: func(src, obj string) (string, error) {
			t.Error("失败条目不应转存")
			return "", nil
		},
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeImages,
		Status:    models.TaskStatusProcessing,
	}
	if err := models.CreateTask(db, task); err != nil {
		t.Fatal(err)
	}

	// 全部条目失败，阶段照常收尾，失败是条目级的
	if err := proc.handleGenerateImages(context.Background(), task, p); err != nil {
		t.Fatalf("批次失败不应让阶段报错: %v", err)
	}

	images, _ := models.GetImagesBySceneID(db, scene.ID)
	if len(images) != 1 || images[0].Status != models.ArtifactStatusFailed {
		t.Errorf("失败条目应标记 failed: %+v", images)
	}
	stored, _ := models.GetProjectByID(db, p.ID)
	if stored.Status != models.ProjectStatusImagesReady {
		t.Errorf("项目状态 = %s, want images_ready", stored.Status)
	}
	storedTask, _ := models.GetTaskByID(db, task.ID)
	if storedTask.Result.Failed != 1 {
		t.Errorf("result = %+v", storedTask.Result)
	}
}

func TestHandleSplit(t *testing.T) {
	splitJSON := `[
		{"sceneNumber": 1, "title": "开场", "narrativeText": "黎明", "startTimestamp": "00:00", "endTimestamp": "00:10", "tags": ["dawn"]},
		{"sceneNumber": 2, "title": "高潮", "narrativeText": "风暴", "startTimestamp": "00:10", "endTimestamp": "00:25", "tags": ["storm"]}
	]`
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write(llmTextResponse(splitJSON))
			return
		}
		// 后续调用是每场景的提示词生成
		w.Write(llmTextResponse("cinematic prompt " + fmt.Sprint(calls)))
	}))
	defer srv.Close()

	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusSplitting)

	// 旧场景应被整体替换
	old := seedScene(t, db, p.ID, 1)
	seedImage(t, db, old.ID, "http://minio/stale.png")

	proc := &Processor{
		DB:  db,
		LLM: newTestLLM(srv.URL),
	}
	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeSplit,
		Status:    models.TaskStatusProcessing,
	}
	if err := models.CreateTask(db, task); err != nil {
		t.Fatal(err)
	}

	if err := proc.handleSplit(context.Background(), task, p); err != nil {
		t.Fatalf("handleSplit 失败: %v", err)
	}

	scenes, err := models.GetScenesByProjectID(db, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(scenes) != 2 {
		t.Fatalf("场景数 = %d, want 2", len(scenes))
	}
	if scenes[0].Title != "开场" || scenes[1].Title != "高潮" {
		t.Errorf("场景标题: %s, %s", scenes[0].Title, scenes[1].Title)
	}
	for _, s := range scenes {
		if s.ImagePrompt == "" {
			t.Errorf("场景 %s 缺少生图提示词", s.ID)
		}
	}

	// 旧场景产物被清掉
	var imgCount int64
	db.Model(&models.GeneratedImage{}).Where("scene_id = ?", old.ID).Count(&imgCount)
	if imgCount != 0 {
		t.Errorf("旧图片残留 %d 条", imgCount)
	}

	stored, _ := models.GetProjectByID(db, p.ID)
	if stored.Status != models.ProjectStatusScenesReady {
		t.Errorf("项目状态 = %s, want scenes_ready", stored.Status)
	}
}

func TestHandleSplitFailureRollsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusSplitting)

	proc := &Processor{DB: db, LLM: newTestLLM(srv.URL)}
	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeSplit,
		Status:    models.TaskStatusProcessing,
	}
	if err := models.CreateTask(db, task); err != nil {
		t.Fatal(err)
	}

	if err := proc.handleSplit(context.Background(), task, p); err == nil {
		t.Fatal("后端失败应返回错误")
	}
	// 失败回退 draft，不能卡在 splitting
	stored, _ := models.GetProjectByID(db, p.ID)
	if stored.Status != models.ProjectStatusDraft {
		t.Errorf("项目状态 = %s, want draft", stored.Status)
	}
}

func TestHandleNarrationSkipsScenesWithAudio(t *testing.T) {
	db := newTestDB(t)
	p := seedProject(t, db, models.ProjectStatusGeneratingNarration)
	p.Config.VoiceID = "voice-1"
	if err := models.UpdateProjectConfig(db, p.ID, p.Config); err != nil {
		t.Fatal(err)
	}

	withAudio := seedScene(t, db, p.ID, 1)
	if err := models.SetSceneAudioUrl(db, withAudio.ID, "http://minio/existing.mp3"); err != nil {
		t.Fatal(err)
	}
	needsAudio := seedScene(t, db, p.ID, 2)

	var synthCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		synthCalls++
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	proc := &Processor{
		DB: db,
		TTS: &TTSBackend{
			BaseURL: srv.URL,
			APIKey:  "k",
			Client:  &http.Client{Timeout: 5 * time.Second},
		},
		UploadAudio: func(data []byte, objectName string) (string, error) {
			return "http://minio/" + objectName, nil
		},
	}
	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Type:      models.TaskTypeNarration,
		Status:    models.TaskStatusProcessing,
	}
	if err := models.CreateTask(db, task); err != nil {
		t.Fatal(err)
	}

	if err := proc.handleNarration(context.Background(), task, p); err != nil {
		t.Fatalf("handleNarration 失败: %v", err)
	}

	if synthCalls != 1 {
		t.Errorf("合成调用次数 = %d, want 1（已有旁白的场景跳过）", synthCalls)
	}
	stored, _ := models.GetSceneByID(db, needsAudio.ID)
	if stored.AudioUrl == "" {
		t.Error("新场景旁白未写回")
	}
	kept, _ := models.GetSceneByID(db, withAudio.ID)
	if kept.AudioUrl != "http://minio/existing.mp3" {
		t.Errorf("已有旁白被覆盖: %s", kept.AudioUrl)
	}
	storedProject, _ := models.GetProjectByID(db, p.ID)
	if storedProject.Status != models.ProjectStatusNarrationReady {
		t.Errorf("项目状态 = %s, want narration_ready", storedProject.Status)
	}
}
