package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"ScriptToVideo-server/models"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 统一的错误 -> HTTP 映射，handler 里不再各自翻译
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrStageRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrNoEligibleContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// dispatchTask 创建任务记录并入队，触发接口的公共收尾。
// 入队失败时任务记录保留为 pending，响应里带上提示。
func dispatchTask(c *gin.Context, task *models.Task) {
	if err := models.CreateTask(models.GormDB, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建任务失败: " + err.Error()})
		return
	}
	if err := service.EnqueueTask(task.ID); err != nil {
		log.Printf("任务入队失败: %v", err)
		c.JSON(http.StatusOK, gin.H{
			"task_id":    task.ID,
			"project_id": task.ProjectId,
			"message":    "任务已创建，但入队失败",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":    task.ID,
		"project_id": task.ProjectId,
		"message":    task.Message,
	})
}

func newTask(projectID, taskType, message string) *models.Task {
	return &models.Task{
		ID:        uuid.NewString(),
		ProjectId: projectID,
		Type:      taskType,
		Status:    models.TaskStatusPending,
		Progress:  0,
		Message:   message,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
