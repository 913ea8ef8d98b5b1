package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 任务状态（系统内统一使用）
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "finished"
	TaskStatusFailed     = "failed"

	// 管线各阶段对应的任务类型
	TaskTypeSplit     = "split_script"       // 剧本 -> 场景
	TaskTypeImages    = "generate_images"    // 场景提示词 -> 生图（批量）
	TaskTypeClips     = "generate_clips"     // 选中图 -> 图生视频（批量）
	TaskTypeNarration = "generate_narration" // 旁白 TTS
	TaskTypeRender    = "render_video"       // 成片渲染
	TaskTypeRegenImage = "regenerate_image"  // 单张图重新生成
	TaskTypeRegenClip  = "regenerate_clip"   // 单条视频重新生成
)

type Task struct {
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId  string         `gorm:"index" json:"projectId"`
	SceneId    string         `json:"sceneId,omitempty"`
	ArtifactId string         `json:"artifactId,omitempty"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message"`
	Result     TaskResult     `gorm:"type:json" json:"result"`
	Error      string         `json:"error"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (Task) TableName() string {
	return "task"
}

// TaskResult 保留最小资源定位信息
type TaskResult struct {
	ResourceType string `json:"resource_type"` // e.g. "video", "audio", "json"
	ResourceId   string `json:"resource_id"`
	ResourceUrl  string `json:"resource_url"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
}

func (r TaskResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TaskResult) Scan(value interface{}) error {
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
	return json.Unmarshal(bytes, r)
}

func CreateTask(db *gorm.DB, t *Task) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	return db.Create(t).Error
}

func GetTaskByID(db *gorm.DB, id string) (*Task, error) {
	var t Task
	if err := db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func GetRecentTaskByProjectID(db *gorm.DB, projectID string) (*Task, error) {
	var t Task
	if err := db.Where("project_id = ?", projectID).Order("created_at DESC").First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Task) MarkProcessing(db *gorm.DB) error {
	return db.Model(t).Updates(map[string]interface{}{
		"status":     TaskStatusProcessing,
		"started_at": time.Now(),
		"updated_at": time.Now(),
	}).Error
}

func (t *Task) SetProgress(db *gorm.DB, progress int, message string) error {
	updates := map[string]interface{}{
		"progress":   progress,
		"updated_at": time.Now(),
	}
	if message != "" {
		updates["message"] = message
	}
	return db.Model(t).Updates(updates).Error
}

// Finish 写入终态。result 可为 nil；errMsg 非空时记录错误
func (t *Task) Finish(db *gorm.DB, status string, result *TaskResult, errMsg string) error {
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now(),
		"updated_at":  time.Now(),
	}
	if result != nil {
		updates["result"] = *result
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if status == TaskStatusSuccess {
		updates["progress"] = 100
	}
	return db.Model(t).Updates(updates).Error
}
