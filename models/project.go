package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 项目状态：严格单向推进，失败时回退到上一个稳定态
const (
	ProjectStatusDraft               = "draft"                // 仅有剧本文本，尚未拆分
	ProjectStatusSplitting           = "splitting"            // 剧本拆分中
	ProjectStatusScenesReady         = "scenes_ready"         // 场景已生成
	ProjectStatusGeneratingImages    = "generating_images"    // 批量生图进行中
	ProjectStatusImagesReady         = "images_ready"         // 所有生图条目均到达终态
	ProjectStatusGeneratingClips     = "generating_clips"     // 图生视频进行中
	ProjectStatusClipsReady          = "clips_ready"          // 所有分镜视频条目均到达终态
	ProjectStatusGeneratingNarration = "generating_narration" // 旁白合成进行中
	ProjectStatusNarrationReady      = "narration_ready"      // 旁白完成
	ProjectStatusRendering           = "rendering"            // 整片渲染中
	ProjectStatusRendered            = "rendered"             // 成片完成
)

type Project struct {
	ID         string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title      string        `json:"title"`
	ScriptText string        `json:"scriptText"`
	Status     string        `json:"status"`
	Config     ProjectConfig `gorm:"type:json" json:"config"`
	VideoUrl   string        `json:"videoUrl"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// ProjectConfig 生成参数，整体作为 JSON 列存储
type ProjectConfig struct {
	ImagesPerScene  int      `json:"images_per_scene"`
	ImageModels     []string `json:"image_models"`
	AnimationModels []string `json:"animation_models"`
	StylePrefix     string   `json:"style_prefix"`
	Format          string   `json:"format"` // 画幅比例: 16:9 / 9:16 / 1:1
	VoiceID         string   `json:"voice_id"`
	TTSModel        string   `json:"tts_model"`
	MaxScenes       int      `json:"max_scenes"`
}

func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		ImagesPerScene:  2,
		ImageModels:     []string{"flux-schnell"},
		AnimationModels: []string{"wan-i2v"},
		StylePrefix:     "cinematic, photorealistic",
		Format:          "16:9",
		TTSModel:        "eleven_multilingual_v2",
	}
}

func (c ProjectConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *ProjectConfig) Scan(value interface{}) error {
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
	return json.Unmarshal(bytes, c)
}

func CreateProject(db *gorm.DB, p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return db.Create(p).Error
}

func GetProjectByID(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func ListProjects(db *gorm.DB) ([]Project, error) {
	var res []Project
	if err := db.Order("created_at DESC").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateProjectStatus 无条件写状态（状态机校验在 service 层）
func UpdateProjectStatus(db *gorm.DB, id string, status string) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error
}

func UpdateProjectConfig(db *gorm.DB, id string, cfg ProjectConfig) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"config":     cfg,
		"updated_at": time.Now(),
	}).Error
}

func SetProjectVideoUrl(db *gorm.DB, id string, url string) error {
	return db.Model(&Project{}).Where("id = ?", id).Updates(map[string]interface{}{
		"video_url":  url,
		"updated_at": time.Now(),
	}).Error
}
