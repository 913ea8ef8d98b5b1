package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	SceneStatusPending    = "pending"
	SceneStatusProcessing = "processing"
	SceneStatusCompleted  = "completed"
	SceneStatusFailed     = "failed"
)

type Scene struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId       string     `gorm:"index" json:"projectId"`
	Order           int        `json:"order"`
	Title           string     `json:"title"`
	NarrativeText   string     `json:"narrativeText"`
	StartTimestamp  string     `json:"startTimestamp"`
	EndTimestamp    string     `json:"endTimestamp"`
	Tags            StringList `gorm:"type:json" json:"tags"`
	ImagePrompt     string     `json:"imagePrompt"`
	AnimationPrompt string     `json:"animationPrompt"`
	AudioUrl        string     `json:"audioUrl"`
	// 弱引用: 只用于查找，一致性由选片逻辑维护
	SelectedImageId string    `json:"selectedImageId"`
	SelectedClipId  string    `json:"selectedClipId"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
		}
	}
	return json.Unmarshal(bytes, l)
}

func GetSceneByID(db *gorm.DB, id string) (*Scene, error) {
	var s Scene
	if err := db.First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func GetScenesByProjectID(db *gorm.DB, projectID string) ([]Scene, error) {
	var res []Scene
	if err := db.Where("project_id = ?", projectID).Order("`order` ASC").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// ReplaceProjectScenes 重拆分：同一事务里删掉项目旧场景及其下所有图片/视频，再插入新场景。
// 不变量：项目的场景集合永远是最近一次拆分的产物。
func ReplaceProjectScenes(db *gorm.DB, projectID string, scenes []Scene) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var oldIDs []string
		if err := tx.Model(&Scene{}).Where("project_id = ?", projectID).Pluck("id", &oldIDs).Error; err != nil {
			return err
		}
		if len(oldIDs) > 0 {
			if err := tx.Where("scene_id IN ?", oldIDs).Delete(&GeneratedImage{}).Error; err != nil {
				return err
			}
			if err := tx.Where("scene_id IN ?", oldIDs).Delete(&GeneratedClip{}).Error; err != nil {
				return err
			}
			if err := tx.Where("project_id = ?", projectID).Delete(&Scene{}).Error; err != nil {
				return err
			}
		}
		if len(scenes) == 0 {
			return nil
		}
		return tx.Create(&scenes).Error
	})
}

func UpdateScenePrompts(db *gorm.DB, id string, imagePrompt, animationPrompt *string) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if imagePrompt != nil {
		updates["image_prompt"] = *imagePrompt
	}
	if animationPrompt != nil {
		updates["animation_prompt"] = *animationPrompt
	}
	return db.Model(&Scene{}).Where("id = ?", id).Updates(updates).Error
}

func SetSceneAudioUrl(db *gorm.DB, id string, audioUrl string) error {
	return db.Model(&Scene{}).Where("id = ?", id).Updates(map[string]interface{}{
		"audio_url":  audioUrl,
		"updated_at": time.Now(),
	}).Error
}
