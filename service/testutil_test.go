package service

import (
	"testing"
	"time"

	"ScriptToVideo-server/models"

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
	if err := models.Migrate(db); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	return db
}

func seedProject(t *testing.T, db *gorm.DB, status string) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:         uuid.NewString(),
		Title:      "测试项目",
		ScriptText: "很久很久以前",
		Status:     status,
		Config:     models.DefaultProjectConfig(),
	}
	if err := models.CreateProject(db, p); err != nil {
		t.Fatalf("创建项目失败: %v", err)
	}
	return p
}

func seedScene(t *testing.T, db *gorm.DB, projectID string, order int) *models.Scene {
	t.Helper()
	s := &models.Scene{
		ID:            uuid.NewString(),
		ProjectId:     projectID,
		Order:         order,
		Title:         "场景",
		NarrativeText: "山谷里起了雾",
		ImagePrompt:   "misty valley at dawn",
		Status:        models.SceneStatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("创建场景失败: %v", err)
	}
	return s
}

func seedImage(t *testing.T, db *gorm.DB, sceneID, url string) *models.GeneratedImage {
	t.Helper()
	img := &models.GeneratedImage{
		ID:         uuid.NewString(),
		SceneId:    sceneID,
		Model:      "flux-schnell",
		Prompt:     "misty valley at dawn",
		ImageUrl:   url,
		Status:     models.ArtifactStatusCompleted,
		Generation: 1,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := db.Create(img).Error; err != nil {
		t.Fatalf("创建图片失败: %v", err)
	}
	return img
}

func seedClip(t *testing.T, db *gorm.DB, sceneID, sourceImageID, url string) *models.GeneratedClip {
	t.Helper()
	clip := &models.GeneratedClip{
		ID:            uuid.NewString(),
		SceneId:       sceneID,
		SourceImageId: sourceImageID,
		Model:         "wan-i2v",
		ClipUrl:       url,
		Status:        models.ArtifactStatusCompleted,
		Generation:    1,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := db.Create(clip).Error; err != nil {
		t.Fatalf("创建视频失败: %v", err)
	}
	return clip
}
