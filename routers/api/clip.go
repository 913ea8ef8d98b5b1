package api

import (
	"net/http"

	"ScriptToVideo-server/models"
	"ScriptToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// 选中某条候选视频：同场景其余视频全部取消选中，事务内完成
func SelectClip(c *gin.Context) {
	clipID := c.Param("clip_id")

	clip, err := service.SelectClip(models.GormDB, clipID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clip": clip})
}

// 重新生成某条视频
func RegenerateClip(c *gin.Context) {
	clipID := c.Param("clip_id")

	clip, err := models.ResetClipForRegenerate(models.GormDB, clipID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	scene, err := models.GetSceneByID(models.GormDB, clip.SceneId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取场景失败: " + err.Error()})
		return
	}

	task := newTask(scene.ProjectId, models.TaskTypeRegenClip, "视频重生成任务已创建")
	task.SceneId = scene.ID
	task.ArtifactId = clip.ID
	dispatchTask(c, task)
}
