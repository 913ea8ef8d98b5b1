package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return db
}

func TestReplaceProjectScenes(t *testing.T) {
	db := newTestDB(t)
	p := &Project{
		ID:         uuid.NewString(),
		Title:      "测试",
		ScriptText: "从前有座山",
		Status:     ProjectStatusScenesReady,
		Config:     DefaultProjectConfig(),
	}
	if err := CreateProject(db, p); err != nil {
		t.Fatal(err)
	}

	oldScene := Scene{
		ID:        uuid.NewString(),
		ProjectId: p.ID,
		Order:     1,
		Title:     "旧场景",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&oldScene).Error; err != nil {
		t.Fatal(err)
	}
	oldImage := GeneratedImage{
		ID: uuid.NewString(), SceneId: oldScene.ID, Model: "flux-schnell",
		Status: ArtifactStatusCompleted, Generation: 1,
	}
	if err := db.Create(&oldImage).Error; err != nil {
		t.Fatal(err)
	}
	oldClip := GeneratedClip{
		ID: uuid.NewString(), SceneId: oldScene.ID, SourceImageId: oldImage.ID,
		Model: "wan-i2v", Status: ArtifactStatusCompleted, Generation: 1,
	}
	if err := db.Create(&oldClip).Error; err != nil {
		t.Fatal(err)
	}

	newScenes := []Scene{
		{ID: uuid.NewString(), ProjectId: p.ID, Order: 1, Title: "新场景一"},
		{ID: uuid.NewString(), ProjectId: p.ID, Order: 2, Title: "新场景二"},
	}
	if err := ReplaceProjectScenes(db, p.ID, newScenes); err != nil {
		t.Fatalf("替换场景失败: %v", err)
	}

	scenes, err := GetScenesByProjectID(db, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(scenes) != 2 {
		t.Fatalf("场景数 = %d, want 2", len(scenes))
	}
	if scenes[0].Title != "新场景一" || scenes[1].Title != "新场景二" {
		t.Errorf("场景应按 order 排序: %s, %s", scenes[0].Title, scenes[1].Title)
	}

	// 旧场景的产物必须一并清掉
	var imgCount, clipCount int64
	db.Model(&GeneratedImage{}).Where("scene_id = ?", oldScene.ID).Count(&imgCount)
	db.Model(&GeneratedClip{}).Where("scene_id = ?", oldScene.ID).Count(&clipCount)
	if imgCount != 0 || clipCount != 0 {
		t.Errorf("旧产物残留: images=%d clips=%d", imgCount, clipCount)
	}
}

func TestFinishImageGenerationGuard(t *testing.T) {
	db := newTestDB(t)
	img := GeneratedImage{
		ID: uuid.NewString(), SceneId: uuid.NewString(), Model: "flux-schnell",
		Status: ArtifactStatusProcessing, Generation: 1,
	}
	if err := db.Create(&img).Error; err != nil {
		t.Fatal(err)
	}

	// 用户触发重生成：换代
	reset, err := ResetImageForRegenerate(db, img.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reset.Generation != 2 {
		t.Fatalf("generation = %d, want 2", reset.Generation)
	}
	if reset.Status != ArtifactStatusProcessing || reset.ImageUrl != "" {
		t.Errorf("重置后字段未清空: %+v", reset)
	}

	// 旧代的写回按 no-op 丢弃
	if err := FinishImage(db, img.ID, 1, "old-job", "http://stale.png", ArtifactStatusCompleted); err != nil {
		t.Fatal(err)
	}
	stored, _ := GetImageByID(db, img.ID)
	if stored.ImageUrl != "" || stored.Status != ArtifactStatusProcessing {
		t.Errorf("旧代写回不应落地: %+v", stored)
	}

	// 当前代的写回正常落地
	if err := FinishImage(db, img.ID, 2, "new-job", "http://fresh.png", ArtifactStatusCompleted); err != nil {
		t.Fatal(err)
	}
	stored, _ = GetImageByID(db, img.ID)
	if stored.ImageUrl != "http://fresh.png" || stored.Status != ArtifactStatusCompleted {
		t.Errorf("当前代写回失败: %+v", stored)
	}
	if stored.JobId != "new-job" {
		t.Errorf("jobId = %s", stored.JobId)
	}
}

func TestTaskFinish(t *testing.T) {
	db := newTestDB(t)
	task := Task{
		ID:        uuid.NewString(),
		ProjectId: uuid.NewString(),
		Type:      TaskTypeImages,
		Status:    TaskStatusPending,
	}
	if err := CreateTask(db, &task); err != nil {
		t.Fatal(err)
	}
	if err := task.MarkProcessing(db); err != nil {
		t.Fatal(err)
	}

	result := &TaskResult{ResourceType: "images", Succeeded: 3, Failed: 1}
	if err := task.Finish(db, TaskStatusSuccess, result, ""); err != nil {
		t.Fatal(err)
	}

	stored, err := GetTaskByID(db, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != TaskStatusSuccess {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.Progress != 100 {
		t.Errorf("成功的任务进度应为 100, got %d", stored.Progress)
	}
	if stored.Result.Succeeded != 3 || stored.Result.Failed != 1 {
		t.Errorf("result = %+v", stored.Result)
	}
	if stored.FinishedAt.IsZero() {
		t.Error("FinishedAt 未写入")
	}
}

func TestUpdateScenePrompts(t *testing.T) {
	db := newTestDB(t)
	scene := Scene{
		ID:              uuid.NewString(),
		ProjectId:       uuid.NewString(),
		Order:           1,
		ImagePrompt:     "original image prompt",
		AnimationPrompt: "original animation prompt",
	}
	if err := db.Create(&scene).Error; err != nil {
		t.Fatal(err)
	}

	// 只更新生图提示词，动画提示词不动
	newPrompt := "edited image prompt"
	if err := UpdateScenePrompts(db, scene.ID, &newPrompt, nil); err != nil {
		t.Fatal(err)
	}
	stored, err := GetSceneByID(db, scene.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ImagePrompt != "edited image prompt" {
		t.Errorf("imagePrompt = %s", stored.ImagePrompt)
	}
	if stored.AnimationPrompt != "original animation prompt" {
		t.Errorf("animationPrompt 不应被修改: %s", stored.AnimationPrompt)
	}
}
