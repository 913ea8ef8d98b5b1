package models

import (
	"time"

	"gorm.io/gorm"
)

type GeneratedClip struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneId         string    `gorm:"index" json:"sceneId"`
	SourceImageId   string    `json:"sourceImageId"` // 动画来源图片，弱引用
	Model           string    `json:"model"`
	AnimationPrompt string    `json:"animationPrompt"`
	ClipUrl         string    `json:"clipUrl"`
	JobId           string    `json:"jobId"`
	Status          string    `json:"status"`
	IsSelected      bool      `json:"isSelected"`
	Generation      int       `json:"generation"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (GeneratedClip) TableName() string {
	return "generated_clip"
}

func BatchCreateClips(db *gorm.DB, clips []GeneratedClip) error {
	if len(clips) == 0 {
		return nil
	}
	return db.Create(&clips).Error
}

func GetClipByID(db *gorm.DB, id string) (*GeneratedClip, error) {
	var clip GeneratedClip
	if err := db.First(&clip, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &clip, nil
}

func GetClipsBySceneID(db *gorm.DB, sceneID string) ([]GeneratedClip, error) {
	var res []GeneratedClip
	if err := db.Where("scene_id = ?", sceneID).Order("created_at ASC").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// GetSelectedClipBySceneID 场景当前选中的视频，没有时返回 gorm.ErrRecordNotFound
func GetSelectedClipBySceneID(db *gorm.DB, sceneID string) (*GeneratedClip, error) {
	var clip GeneratedClip
	if err := db.First(&clip, "scene_id = ? AND is_selected = ?", sceneID, true).Error; err != nil {
		return nil, err
	}
	return &clip, nil
}

func FinishClip(db *gorm.DB, id string, generation int, jobID, clipUrl, status string) error {
	return db.Model(&GeneratedClip{}).
		Where("id = ? AND generation = ?", id, generation).
		Updates(map[string]interface{}{
			"job_id":     jobID,
			"clip_url":   clipUrl,
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func ResetClipForRegenerate(db *gorm.DB, id string) (*GeneratedClip, error) {
	err := db.Model(&GeneratedClip{}).Where("id = ?", id).Updates(map[string]interface{}{
		"clip_url":   "",
		"job_id":     "",
		"status":     ArtifactStatusProcessing,
		"generation": gorm.Expr("generation + 1"),
		"updated_at": time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	return GetClipByID(db, id)
}
