package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ArtifactStatusPending    = "pending"
	ArtifactStatusProcessing = "processing"
	ArtifactStatusCompleted  = "completed"
	ArtifactStatusFailed     = "failed"
)

type GeneratedImage struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneId    string    `gorm:"index" json:"sceneId"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	ImageUrl   string    `json:"imageUrl"`
	JobId      string    `json:"jobId"` // 外部任务句柄
	Status     string    `json:"status"`
	IsSelected bool      `json:"isSelected"`
	// 重新生成时 +1；后台写回前比对，旧代的写入按 no-op 丢弃
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (GeneratedImage) TableName() string {
	return "generated_image"
}

func BatchCreateImages(db *gorm.DB, images []GeneratedImage) error {
	if len(images) == 0 {
		return nil
	}
	return db.Create(&images).Error
}

func GetImageByID(db *gorm.DB, id string) (*GeneratedImage, error) {
	var img GeneratedImage
	if err := db.First(&img, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &img, nil
}

func GetImagesBySceneID(db *gorm.DB, sceneID string) ([]GeneratedImage, error) {
	var res []GeneratedImage
	if err := db.Where("scene_id = ?", sceneID).Order("created_at ASC").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// FinishImage 写回生成结果。带 generation 条件：该记录被重新生成过则本次写入不落地。
func FinishImage(db *gorm.DB, id string, generation int, jobID, imageUrl, status string) error {
	return db.Model(&GeneratedImage{}).
		Where("id = ? AND generation = ?", id, generation).
		Updates(map[string]interface{}{
			"job_id":     jobID,
			"image_url":  imageUrl,
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// ResetImageForRegenerate 清空结果字段并把 generation +1，返回更新后的记录
func ResetImageForRegenerate(db *gorm.DB, id string) (*GeneratedImage, error) {
	err := db.Model(&GeneratedImage{}).Where("id = ?", id).Updates(map[string]interface{}{
		"image_url":  "",
		"job_id":     "",
		"status":     ArtifactStatusProcessing,
		"generation": gorm.Expr("generation + 1"),
		"updated_at": time.Now(),
	}).Error
	if err != nil {
		return nil, err
	}
	return GetImageByID(db, id)
}
